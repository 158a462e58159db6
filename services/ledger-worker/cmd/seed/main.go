package main

import (
	"context"
	"flag"
	"math/rand"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/nimeshabuddhika/custodial-ledger/pkg"
	"github.com/nimeshabuddhika/custodial-ledger/pkg/database"
	"github.com/nimeshabuddhika/custodial-ledger/pkg/models"
	"github.com/nimeshabuddhika/custodial-ledger/pkg/repositories"
	"github.com/nimeshabuddhika/custodial-ledger/services/ledger-worker/configs"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// main seeds funded accounts for local load tests. Every balance is backed by a confirmed
// deposit written in the same transaction, so seeded data reconciles like real data.
func main() {
	noOfClients := flag.Int("clients", 100, "Number of clients to seed")
	coins := flag.String("coins", "BTC,ETH", "Comma separated coin symbols")
	depositsPerAccount := flag.Int("deposits", 3, "Confirmed deposits per account")
	minAmount := flag.Float64("minAmount", 0.01, "Min deposit amount")
	maxAmount := flag.Float64("maxAmount", 2.0, "Max deposit amount")
	flag.Parse()

	pkg.InitLogger("ledger-seed")
	logger := pkg.Logger
	defer logger.Sync()

	cfg, err := configs.Load(logger)
	if err != nil {
		logger.Fatal("failed_to_load_config", zap.Error(err))
	}

	ctx := context.Background()
	if err := database.RunMigrations(logger, cfg.PrimaryDbAddr); err != nil {
		logger.Fatal("failed_to_run_database_migrations", zap.Error(err))
	}
	db, closer, err := database.New(ctx, logger, database.Config{
		PrimaryDSN: cfg.PrimaryDbAddr,
		MaxConns:   cfg.MaxDbCons,
		MinConns:   cfg.MinDbCons,
	})
	if err != nil {
		logger.Fatal("failed_to_init_db", zap.Error(err))
	}
	defer closer()

	minAmt, maxAmt := *minAmount, *maxAmount
	if minAmt > maxAmt {
		minAmt, maxAmt = maxAmt, minAmt
	}
	accountRepo := repositories.NewAccountRepository()
	depositRepo := repositories.NewDepositRepository()

	var symbols []string
	for _, s := range strings.Split(*coins, ",") {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			symbols = append(symbols, s)
		}
	}

	// Seed data within a transaction to ensure atomicity.
	err = db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		for clientID := int64(1); clientID <= int64(*noOfClients); clientID++ {
			for _, coin := range symbols {
				if _, err := accountRepo.CreateIfAbsent(ctx, tx, clientID, coin); err != nil {
					return err
				}
				for i := 0; i < *depositsPerAccount; i++ {
					amount := decimal.NewFromFloat(minAmt + rand.Float64()*(maxAmt-minAmt)).Round(8)
					if !amount.IsPositive() {
						continue
					}
					if _, err := depositRepo.Create(ctx, tx, models.Deposit{
						ID:         uuid.New(),
						ClientID:   clientID,
						CoinSymbol: coin,
						Amount:     amount,
						TxHash:     syntheticTxHash(),
						Status:     pkg.DepositStatusConfirmed,
					}); err != nil {
						return err
					}
					if _, err := accountRepo.AddBalance(ctx, tx, clientID, coin, amount); err != nil {
						return err
					}
				}
			}
			logger.Debug("client_seeded", zap.Int64(pkg.ClientId, clientID))
		}
		return nil
	})
	if err != nil {
		logger.Fatal("failed_to_seed_data", zap.Error(err))
	}
	logger.Info("data_seeded_successfully",
		zap.Int("clients", *noOfClients),
		zap.Strings("coins", symbols))
}

// syntheticTxHash is 64 hex chars, the shape of a real transaction id.
func syntheticTxHash() string {
	return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
}
