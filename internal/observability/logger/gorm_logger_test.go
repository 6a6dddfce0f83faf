package logger

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

func TestOperationFromSQL(t *testing.T) {
	cases := map[string]string{
		"SELECT id FROM bowlers":                         "SELECT",
		"  insert into ledger_entries (id) values (1)":   "INSERT",
		"WITH totals AS (SELECT 1) UPDATE purchases SET": "SELECT",
		"SAVEPOINT sp1":                                  "SAVEPOINT",
		"":                                               "UNKNOWN",
		"VACUUM":                                         "UNKNOWN",
	}
	for sql, want := range cases {
		if got := operationFromSQL(sql); got != want {
			t.Fatalf("operationFromSQL(%q) = %s, want %s", sql, got, want)
		}
	}
}

func TestGormLoggerClassify(t *testing.T) {
	l := NewGormLogger(DefaultGormLoggerConfig())

	required, _ := l.classify(time.Millisecond, gormlogger.ErrRecordNotFound)
	if required != gormlogger.Info {
		t.Fatalf("not-found should be logged at info, got %v", required)
	}
	required, level := l.classify(time.Millisecond, errors.New("boom"))
	if required != gormlogger.Error || level != zapcore.ErrorLevel {
		t.Fatalf("errors should be logged at error, got %v/%v", required, level)
	}
	required, level = l.classify(time.Second, nil)
	if required != gormlogger.Warn || level != zapcore.WarnLevel {
		t.Fatalf("slow queries should warn, got %v/%v", required, level)
	}

	quiet := l.LogMode(gormlogger.Silent).(*GormLogger)
	if quiet.cfg.Level != gormlogger.Silent || l.cfg.Level != gormlogger.Warn {
		t.Fatal("LogMode must return an independent copy")
	}
}

func TestRequestLevel(t *testing.T) {
	if got := requestLevel("/health", 500); got != zapcore.DebugLevel {
		t.Fatalf("health checks should log at debug, got %v", got)
	}
	if got := requestLevel("/public/:tournament", 503); got != zapcore.ErrorLevel {
		t.Fatalf("server errors should log at error, got %v", got)
	}
	if got := requestLevel("/public/:tournament", 409); got != zapcore.InfoLevel {
		t.Fatalf("client errors should log at info, got %v", got)
	}
}
