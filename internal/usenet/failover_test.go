package usenet

import (
	"context"
	"errors"
	"testing"

	"github.com/zzenonn/zdav/internal/domain"
	zerrors "github.com/zzenonn/zdav/internal/errors"
)

// recordingProvider records the order providers are tried in.
func recordingProvider(name string, order *[]string, statErr error) *mockClient {
	return &mockClient{
		StatFn: func(ctx context.Context, id string) (domain.StatResponse, error) {
			*order = append(*order, name)
			if statErr != nil {
				return domain.StatResponse{}, statErr
			}
			return domain.StatResponse{SegmentID: id, Exists: true}, nil
		},
	}
}

func TestFailoverClient_TierOrder(t *testing.T) {
	var order []string
	notFound := zerrors.NewArticleNotFound("seg")
	client := NewFailoverClient([]Provider{
		{Name: "backup-only", Client: recordingProvider("backup-only", &order, notFound), Type: domain.ProviderBackupOnly},
		{Name: "disabled", Client: recordingProvider("disabled", &order, nil), Type: domain.ProviderDisabled},
		{Name: "stats", Client: recordingProvider("stats", &order, notFound), Type: domain.ProviderBackupAndStats},
		{Name: "pooled-a", Client: recordingProvider("pooled-a", &order, notFound), Type: domain.ProviderPooled},
		{Name: "pooled-b", Client: recordingProvider("pooled-b", &order, notFound), Type: domain.ProviderPooled},
	})

	_, err := client.Stat(context.Background(), "seg")
	if !errors.Is(err, zerrors.ErrArticleNotFound) {
		t.Fatalf("Stat() error = %v, want ErrArticleNotFound", err)
	}

	want := []string{"pooled-a", "pooled-b", "stats", "backup-only"}
	if len(order) != len(want) {
		t.Fatalf("tried %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("tried %v, want %v", order, want)
		}
	}
}

func TestFailoverClient_StickyWithinTier(t *testing.T) {
	var order []string
	aFails := true
	a := &mockClient{
		StatFn: func(ctx context.Context, id string) (domain.StatResponse, error) {
			order = append(order, "a")
			if aFails {
				return domain.StatResponse{}, zerrors.ErrCouldNotConnect
			}
			return domain.StatResponse{SegmentID: id, Exists: true}, nil
		},
	}
	client := NewFailoverClient([]Provider{
		{Name: "a", Client: a, Type: domain.ProviderPooled},
		{Name: "b", Client: recordingProvider("b", &order, nil), Type: domain.ProviderPooled},
		{Name: "backup", Client: recordingProvider("backup", &order, nil), Type: domain.ProviderBackupOnly},
	})

	if _, err := client.Stat(context.Background(), "seg-1"); err != nil {
		t.Fatalf("Stat() error = %v", err)
	}

	aFails = false
	order = nil
	if _, err := client.Stat(context.Background(), "seg-2"); err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if len(order) != 1 || order[0] != "b" {
		t.Errorf("second call tried %v, want [b] first", order)
	}
}

func TestFailoverClient_StickyBackupDoesNotJumpTier(t *testing.T) {
	var order []string
	primaryFails := true
	primary := &mockClient{
		StatFn: func(ctx context.Context, id string) (domain.StatResponse, error) {
			order = append(order, "primary")
			if primaryFails {
				return domain.StatResponse{}, zerrors.NewArticleNotFound(id)
			}
			return domain.StatResponse{SegmentID: id, Exists: true}, nil
		},
	}
	client := NewFailoverClient([]Provider{
		{Name: "backup", Client: recordingProvider("backup", &order, nil), Type: domain.ProviderBackupOnly},
		{Name: "primary", Client: primary, Type: domain.ProviderPooled},
	})

	if _, err := client.Stat(context.Background(), "seg-1"); err != nil {
		t.Fatalf("Stat() error = %v", err)
	}

	primaryFails = false
	order = nil
	if _, err := client.Stat(context.Background(), "seg-2"); err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if len(order) != 1 || order[0] != "primary" {
		t.Errorf("tried %v, want pooled provider first", order)
	}
}

func TestFailoverClient_Errors(t *testing.T) {
	connErr := errors.New("dial tcp: connection refused")
	notFound := zerrors.NewArticleNotFound("seg")

	tests := []struct {
		name      string
		providers []error
		wantErr   error
		wantFound bool
	}{
		{
			name:      "not found on first, found on second",
			providers: []error{notFound, nil},
			wantFound: true,
		},
		{
			name:      "connectivity failure masked by second provider",
			providers: []error{connErr, nil},
			wantFound: true,
		},
		{
			name:      "all not found",
			providers: []error{notFound, notFound},
			wantErr:   zerrors.ErrArticleNotFound,
		},
		{
			name:      "last error wins",
			providers: []error{notFound, connErr},
			wantErr:   connErr,
		},
		{
			name:    "no providers",
			wantErr: zerrors.ErrNoProviders,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var order []string
			var providers []Provider
			for i, err := range tt.providers {
				name := string(rune('a' + i))
				providers = append(providers, Provider{
					Name:   name,
					Client: recordingProvider(name, &order, err),
					Type:   domain.ProviderPooled,
				})
			}
			client := NewFailoverClient(providers)

			res, err := client.Stat(context.Background(), "seg")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Stat() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Stat() error = %v", err)
			}
			if res.Exists != tt.wantFound {
				t.Errorf("Stat().Exists = %v, want %v", res.Exists, tt.wantFound)
			}
		})
	}
}

func TestFailoverClient_NegativeStatFallsThrough(t *testing.T) {
	missing := &mockClient{
		StatFn: func(ctx context.Context, id string) (domain.StatResponse, error) {
			return domain.StatResponse{SegmentID: id, Exists: false}, nil
		},
	}
	var order []string
	client := NewFailoverClient([]Provider{
		{Name: "missing", Client: missing, Type: domain.ProviderPooled},
		{Name: "has-it", Client: recordingProvider("has-it", &order, nil), Type: domain.ProviderBackupOnly},
	})

	res, err := client.Stat(context.Background(), "seg")
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if !res.Exists {
		t.Error("Stat() = missing, want the backup provider's answer")
	}
}

func TestFailoverClient_StopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var order []string
	first := &mockClient{
		StatFn: func(c context.Context, id string) (domain.StatResponse, error) {
			order = append(order, "first")
			cancel()
			return domain.StatResponse{}, c.Err()
		},
	}
	client := NewFailoverClient([]Provider{
		{Name: "first", Client: first, Type: domain.ProviderPooled},
		{Name: "second", Client: recordingProvider("second", &order, nil), Type: domain.ProviderPooled},
	})

	if _, err := client.Stat(ctx, "seg"); !errors.Is(err, context.Canceled) {
		t.Errorf("Stat() error = %v, want context.Canceled", err)
	}
	if len(order) != 1 {
		t.Errorf("tried %v after cancellation, want only the first provider", order)
	}
}
