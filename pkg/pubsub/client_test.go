package pubsub

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mostafizurRahaman/donation-app-server/pkg/config"
)

func TestTopicResourceName(t *testing.T) {
	cases := []struct {
		project, name, want string
	}{
		{"proj", "donation-events", "projects/proj/topics/donation-events"},
		{"proj", " projects/other/topics/x ", "projects/other/topics/x"},
		{"", "donation-events", ""},
		{"proj", "  ", ""},
	}
	for _, tc := range cases {
		if got := topicResourceName(tc.project, tc.name); got != tc.want {
			t.Fatalf("topicResourceName(%q, %q) = %q, want %q", tc.project, tc.name, got, tc.want)
		}
	}
}

func TestConfiguredTopicsAcceptsShortAndFullNames(t *testing.T) {
	topics, err := configuredTopics("proj", config.PubSubConfig{DonationsTopic: " donation-events "})
	if err != nil {
		t.Fatalf("configured topics: %v", err)
	}
	const full = "projects/proj/topics/donation-events"
	if topics["donation-events"] != full || topics[full] != full {
		t.Fatalf("unexpected topics %v", topics)
	}
	if got := uniqueValues(topics); len(got) != 1 {
		t.Fatalf("expected one distinct topic, got %v", got)
	}

	if _, err := configuredTopics("proj", config.PubSubConfig{}); !errors.Is(err, errTopicRequired) {
		t.Fatalf("expected missing topic error, got %v", err)
	}
}

func TestClientOptionsPrefersInlineCredentials(t *testing.T) {
	opts := clientOptions(config.GCPConfig{CredentialsJSON: `{"type":"service_account"}`, ApplicationCredentials: "/tmp/key.json"})
	if len(opts) != 1 {
		t.Fatalf("expected a single credential option, got %d", len(opts))
	}
	if opts := clientOptions(config.GCPConfig{}); len(opts) != 0 {
		t.Fatalf("expected default credentials, got %d options", len(opts))
	}
}

func TestIsPermanent(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{fmt.Errorf("%w: audit-events", ErrUnknownTopic), true},
		{status.Error(codes.NotFound, "topic deleted"), true},
		{fmt.Errorf("publish: %w", status.Error(codes.PermissionDenied, "denied")), true},
		{status.Error(codes.Unavailable, "try again"), false},
		{context.DeadlineExceeded, false},
		{nil, false},
	}
	for _, tc := range cases {
		if got := IsPermanent(tc.err); got != tc.want {
			t.Fatalf("IsPermanent(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	if _, err := c.Publish(context.Background(), "donation-events", nil); !errors.Is(err, errNotInitialized) {
		t.Fatalf("expected not initialized error, got %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("expected ping error on nil client")
	}
}
