// Package startup 在服务接收流量前准备好存储，并在Redis数据丢失后重建依赖Redis的状态。
package startup

import (
	"context"
	"fmt"

	"github.com/SlpAus/aviator-backend/internal/ledger"
	"github.com/SlpAus/aviator-backend/internal/platform/health"
	"github.com/SlpAus/aviator-backend/internal/platform/metadata"
	"github.com/SlpAus/aviator-backend/internal/rain"
	"github.com/SlpAus/aviator-backend/internal/round"
	"github.com/SlpAus/aviator-backend/internal/user"
	"github.com/SlpAus/aviator-backend/internal/wallet"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Step 是一个具名的预热步骤。
type Step struct {
	Name string
	Run  func(ctx context.Context) error
}

// Models 列出本服务拥有的所有数据表。
func Models() []interface{} {
	return []interface{}{
		&metadata.Metadata{},
		&user.Player{},
		&wallet.Wallet{},
		&wallet.FreebetTransaction{},
		&round.Round{},
		&ledger.Bet{},
		&rain.Giveaway{},
		&rain.Participant{},
	}
}

// Migrate 创建或更新表结构。
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("迁移表结构失败: %w", err)
	}
	return nil
}

// InitializeApplication 先迁移表结构，再依次执行各个步骤。
// 任一步骤失败即中止启动。
func InitializeApplication(ctx context.Context, db *gorm.DB, log *logrus.Logger, steps ...Step) error {
	log.Info("开始初始化应用")
	if err := Migrate(db); err != nil {
		return err
	}
	if err := runSteps(ctx, log, steps); err != nil {
		return err
	}
	log.Info("应用初始化完成")
	return nil
}

// RebuildCache 把这些步骤包装成健康检查的重建函数。
// 步骤失败时检查器保持重建状态，下次检查时重试。
func RebuildCache(log *logrus.Logger, steps ...Step) health.RebuildFunc {
	return func(ctx context.Context) error {
		log.Info("开始重建Redis状态")
		if err := runSteps(ctx, log, steps); err != nil {
			return err
		}
		log.Info("Redis状态重建完成")
		return nil
	}
}

func runSteps(ctx context.Context, log *logrus.Logger, steps []Step) error {
	for _, step := range steps {
		if err := step.Run(ctx); err != nil {
			return fmt.Errorf("%s: %w", step.Name, err)
		}
		log.WithField("step", step.Name).Debug("预热步骤完成")
	}
	return nil
}
