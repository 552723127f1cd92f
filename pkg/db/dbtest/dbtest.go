// Package dbtest opens in-memory sqlite databases carrying the donation schema.
package dbtest

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var schema = []string{
	`CREATE TABLE organizations (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  processor_account_id TEXT,
  is_active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE donations (
  id TEXT PRIMARY KEY,
  donor_id TEXT NOT NULL,
  organization_id TEXT NOT NULL,
  cause_id TEXT,
  donation_type TEXT NOT NULL,
  base_amount NUMERIC NOT NULL,
  cover_fees INTEGER NOT NULL DEFAULT 0,
  platform_fee NUMERIC NOT NULL,
  gst_on_fee NUMERIC NOT NULL,
  processor_fee NUMERIC NOT NULL,
  net_amount NUMERIC NOT NULL,
  total_amount NUMERIC NOT NULL,
  currency TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  payment_intent_id TEXT,
  charge_id TEXT,
  idempotency_key TEXT NOT NULL,
  payment_attempts INTEGER NOT NULL DEFAULT 0,
  last_payment_attempt DATETIME,
  failure_reason TEXT,
  scheduled_donation_id TEXT,
  round_up_config_id TEXT,
  receipt_generated INTEGER NOT NULL DEFAULT 0,
  receipt_id TEXT,
  refund_reason TEXT,
  completed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME,
  CHECK (status <> 'completed' OR payment_intent_id IS NOT NULL)
);`,
	`CREATE UNIQUE INDEX ux_donations_payment_intent ON donations (payment_intent_id) WHERE payment_intent_id IS NOT NULL;`,
	`CREATE UNIQUE INDEX ux_donations_donor_idempotency ON donations (donor_id, idempotency_key);`,
	`CREATE TABLE scheduled_donations (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  organization_id TEXT NOT NULL,
  cause_id TEXT,
  amount NUMERIC NOT NULL,
  cover_fees INTEGER NOT NULL DEFAULT 0,
  currency TEXT NOT NULL,
  frequency TEXT NOT NULL,
  custom_interval_value INTEGER,
  custom_interval_unit TEXT,
  stripe_customer_id TEXT NOT NULL,
  payment_method_id TEXT NOT NULL,
  start_date DATETIME NOT NULL,
  end_date DATETIME,
  next_run_at DATETIME NOT NULL,
  last_executed_at DATETIME,
  total_executions INTEGER NOT NULL DEFAULT 0,
  is_active INTEGER NOT NULL DEFAULT 1,
  execution_status TEXT NOT NULL DEFAULT 'active',
  locked_at DATETIME,
  last_failure_reason TEXT,
  consecutive_failures INTEGER NOT NULL DEFAULT 0,
  current_donation_id TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE round_up_configs (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL UNIQUE,
  organization_id TEXT NOT NULL,
  cause_id TEXT,
  stripe_customer_id TEXT NOT NULL,
  payment_method_id TEXT NOT NULL,
  currency TEXT NOT NULL,
  cover_fees INTEGER NOT NULL DEFAULT 0,
  threshold NUMERIC,
  accumulated_total NUMERIC NOT NULL DEFAULT 0,
  batch_status TEXT NOT NULL DEFAULT 'idle',
  current_donation_id TEXT,
  batch_claimed_at DATETIME,
  last_donation_at DATETIME,
  last_failure_reason TEXT,
  last_failed_at DATETIME,
  is_active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE round_up_transactions (
  id TEXT PRIMARY KEY,
  config_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  source_ref TEXT NOT NULL,
  amount NUMERIC NOT NULL,
  status TEXT NOT NULL DEFAULT 'accumulated',
  donation_id TEXT,
  charge_id TEXT,
  processed_at DATETIME,
  donated_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (user_id, source_ref)
);`,
	`CREATE TABLE ledger_entries (
  id TEXT PRIMARY KEY,
  organization_id TEXT NOT NULL,
  donation_id TEXT NOT NULL,
  type TEXT NOT NULL,
  amount NUMERIC NOT NULL,
  currency TEXT NOT NULL,
  reason TEXT,
  created_at DATETIME,
  UNIQUE (donation_id, type)
);`,
	`CREATE TABLE receipts (
  id TEXT PRIMARY KEY,
  donation_id TEXT NOT NULL UNIQUE,
  donor_id TEXT NOT NULL,
  organization_id TEXT NOT NULL,
  receipt_number TEXT NOT NULL UNIQUE,
  base_amount NUMERIC NOT NULL,
  platform_fee NUMERIC NOT NULL,
  gst_on_fee NUMERIC NOT NULL,
  processor_fee NUMERIC NOT NULL,
  total_amount NUMERIC NOT NULL,
  net_amount NUMERIC NOT NULL,
  currency TEXT NOT NULL,
  issued_at DATETIME NOT NULL,
  created_at DATETIME
);`,
	`CREATE TABLE points_transactions (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  donation_id TEXT NOT NULL UNIQUE,
  points INTEGER NOT NULL,
  reason TEXT NOT NULL,
  created_at DATETIME
);`,
	`CREATE TABLE outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload BLOB NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT,
  UNIQUE (event_type, aggregate_type, aggregate_id)
);`,
}

// Open returns a private in-memory database with every table created.
// Connections are capped at one so concurrent callers serialize on the same file.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		require.NoError(t, conn.Exec(stmt).Error)
	}
	return conn
}
