//go:build !windows

package main

import (
	"path/filepath"
	"testing"
)

func TestInstanceKey(t *testing.T) {
	a := instanceKey("https://login.salesforce.com", "client-a")
	if a != instanceKey(" HTTPS://login.salesforce.com ", "client-a") {
		t.Fatalf("key should ignore case and surrounding space of the login URL")
	}
	if a == instanceKey("https://login.salesforce.com", "client-b") {
		t.Fatalf("different clients must not share a key")
	}
	if len(a) != 16 {
		t.Fatalf("key length = %d, want 16", len(a))
	}
}

func TestAcquireInstanceLockAt_SecondHolderIsRefused(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "subscriber-test.lock")

	first, lockedByOther, err := acquireInstanceLockAt(path)
	if err != nil || lockedByOther {
		t.Fatalf("first acquire = (%v, %v)", lockedByOther, err)
	}
	defer func() { _ = first.Release() }()

	second, lockedByOther, err := acquireInstanceLockAt(path)
	if err != nil {
		t.Fatalf("second acquire error = %v", err)
	}
	if !lockedByOther || second != nil {
		t.Fatalf("second acquire should report the lock as held")
	}

	if err := first.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	third, lockedByOther, err := acquireInstanceLockAt(path)
	if err != nil || lockedByOther {
		t.Fatalf("acquire after release = (%v, %v)", lockedByOther, err)
	}
	_ = third.Release()
}
