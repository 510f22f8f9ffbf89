//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	domain "github.com/tiendaplus/api/internal/domain"
	pconfig "github.com/tiendaplus/api/internal/platform/config"
	pfirestore "github.com/tiendaplus/api/internal/platform/firestore"
	"github.com/tiendaplus/api/internal/repositories"
)

func TestAuditLogRepositoryIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}

	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}

	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })

	waitForEndpoint(t, endpoint, 30*time.Second)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{
		ProjectID:    "audit-test",
		EmulatorHost: endpoint,
	})
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	repo, err := NewAuditLogRepository(provider)
	if err != nil {
		t.Fatalf("new audit log repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	entries := []domain.AuditLogEntry{
		{ID: "aud_1", Actor: "staff-1", ActorType: "staff", Action: "order.status.update", TargetRef: "/orders/ord_1", CreatedAt: base},
		{ID: "aud_2", Actor: "staff-1", ActorType: "staff", Action: "order.shipment.update", TargetRef: "/orders/ord_1", CreatedAt: base.Add(time.Minute),
			Diff: map[string]any{"status": map[string]any{"before": "IN_PREPARATION", "after": "SHIPPED"}}},
		{ID: "aud_3", Actor: "uid-9", ActorType: "customer", Action: "checkout.confirm", TargetRef: "/orders/ord_1", CreatedAt: base.Add(2 * time.Minute)},
		{ID: "aud_4", Actor: "staff-2", ActorType: "staff", Action: "order.status.update", TargetRef: "/orders/ord_2", CreatedAt: base.Add(3 * time.Minute)},
	}
	for _, entry := range entries {
		if err := repo.Append(ctx, entry); err != nil {
			t.Fatalf("append %s: %v", entry.ID, err)
		}
	}

	err = repo.Append(ctx, entries[0])
	var fsErr *pfirestore.Error
	if !errors.As(err, &fsErr) || !fsErr.IsConflict() {
		t.Fatalf("expected conflict when appending aud_1 twice, got %v", err)
	}

	page, err := repo.List(ctx, repositories.AuditLogFilter{
		TargetRef:  "/orders/ord_1",
		Pagination: domain.Pagination{PageSize: 2},
	})
	if err != nil {
		t.Fatalf("list first page: %v", err)
	}
	if len(page.Items) != 2 || page.Items[0].ID != "aud_3" || page.Items[1].ID != "aud_2" {
		t.Fatalf("expected newest entries first, got %+v", page.Items)
	}
	if page.NextPageToken == "" {
		t.Fatalf("expected next page token")
	}
	if page.Items[1].Diff == nil {
		t.Fatalf("expected diff to round trip")
	}

	next, err := repo.List(ctx, repositories.AuditLogFilter{
		TargetRef:  "/orders/ord_1",
		Pagination: domain.Pagination{PageSize: 2, PageToken: page.NextPageToken},
	})
	if err != nil {
		t.Fatalf("list second page: %v", err)
	}
	if len(next.Items) != 1 || next.Items[0].ID != "aud_1" {
		t.Fatalf("expected oldest entry on second page, got %+v", next.Items)
	}
	if next.NextPageToken != "" {
		t.Fatalf("expected last page, got token %q", next.NextPageToken)
	}

	byActor, err := repo.List(ctx, repositories.AuditLogFilter{Actor: "staff-2"})
	if err != nil {
		t.Fatalf("list by actor: %v", err)
	}
	if len(byActor.Items) != 1 || byActor.Items[0].TargetRef != "/orders/ord_2" {
		t.Fatalf("unexpected actor filter result %+v", byActor.Items)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	addr, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer addr.Close()
	return addr.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	args := []string{
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	}

	out, err := exec.Command("docker", args...).CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, "docker", "info").Run(); err != nil {
		t.Fatalf("docker daemon not available: %v", err)
	}
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = exec.CommandContext(ctx, "docker", "stop", id).Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("firestore emulator at %s did not become ready within %s", endpoint, timeout)
}

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"
