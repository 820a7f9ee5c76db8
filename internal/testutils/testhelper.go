// Package testutils holds shared fixtures and assertions for package tests.
package testutils

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/native"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger

	// Logs captures everything written through Logger
	Logs *bytes.Buffer
}

// NewTestHelper creates a test helper with a debug logger writing into a buffer.
func NewTestHelper(t *testing.T) *TestHelper {
	logs := &bytes.Buffer{}
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	logger.SetOutput(logs)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, DisableColors: true})

	t.Cleanup(func() {
		if t.Failed() {
			t.Logf("captured logs:\n%s", logs.String())
		}
	})

	return &TestHelper{
		T:      t,
		Logger: logger,
		Logs:   logs,
	}
}

// RecordFromJSON decodes a discovered-device payload, failing the test on malformed input.
func RecordFromJSON(t *testing.T, payload string) *device.Record {
	t.Helper()
	rec, err := native.DecodeDevice(payload)
	if err != nil {
		t.Fatalf("invalid device payload: %v", err)
	}
	return rec
}

// RecordToJSON encodes a record the way adapters serialize discoveries
func RecordToJSON(rec *device.Record) string {
	payload, err := native.EncodeDevice(rec)
	if err != nil {
		panic(err)
	}
	return payload
}
