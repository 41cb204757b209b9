package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

var fastPings = pingPolicy{
	timeout:    time.Second,
	maxWait:    time.Second,
	minBackoff: time.Millisecond,
	maxBackoff: 4 * time.Millisecond,
}

func TestWaitForDatabaseRetriesUntilReady(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	mock.ExpectPing().WillReturnError(errors.New("the database system is starting up"))
	mock.ExpectPing()

	if err := waitForDatabase(context.Background(), db, fastPings); err != nil {
		t.Fatalf("waitForDatabase: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWaitForDatabaseStopsOnCancel(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	if err := waitForDatabase(ctx, db, fastPings); err == nil {
		t.Fatal("expected an error after cancellation")
	}
}
