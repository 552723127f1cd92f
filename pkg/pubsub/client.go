package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mostafizurRahaman/donation-app-server/pkg/config"
	"github.com/mostafizurRahaman/donation-app-server/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errTopicRequired     = errors.New("pubsub donations topic is required")
	errNotInitialized    = errors.New("pubsub client not initialized")

	// ErrUnknownTopic is returned by Publish for a topic the client was not configured with.
	ErrUnknownTopic = errors.New("pubsub topic not configured")
)

// Client publishes donation events to the topics named in config. One
// publisher handle is kept per topic and flushed on Close.
type Client struct {
	client    *pubsub.Client
	projectID string
	topics    map[string]string

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

// NewClient connects to Pub/Sub and fails when a configured topic is missing.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	topics, err := configuredTopics(projectID, cfg)
	if err != nil {
		return nil, err
	}

	psClient, err := pubsub.NewClient(ctx, projectID, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c := &Client{
		client:     psClient,
		projectID:  projectID,
		topics:     topics,
		publishers: make(map[string]*pubsub.Publisher),
	}
	if err := c.Ping(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "topics", len(topics)), "pubsub client initialized")
	}
	return c, nil
}

func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	switch {
	case strings.TrimSpace(gcp.CredentialsJSON) != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(gcp.CredentialsJSON))}
	case strings.TrimSpace(gcp.ApplicationCredentials) != "":
		return []option.ClientOption{option.WithCredentialsFile(gcp.ApplicationCredentials)}
	}
	return nil
}

// configuredTopics maps each short topic id to its full resource name.
func configuredTopics(projectID string, cfg config.PubSubConfig) (map[string]string, error) {
	name := strings.TrimSpace(cfg.DonationsTopic)
	if name == "" {
		return nil, errTopicRequired
	}
	full := topicResourceName(projectID, name)
	if full == "" {
		return nil, fmt.Errorf("topic %q: %w", name, errProjectIDRequired)
	}
	return map[string]string{name: full, full: full}, nil
}

// Publish sends msg to topic and waits for the server to acknowledge it.
func (c *Client) Publish(ctx context.Context, topic string, msg *pubsub.Message) (string, error) {
	pub, err := c.publisher(topic)
	if err != nil {
		return "", err
	}
	return pub.Publish(ctx, msg).Get(ctx)
}

func (c *Client) publisher(topic string) (*pubsub.Publisher, error) {
	if c == nil || c.client == nil {
		return nil, errNotInitialized
	}
	full, ok := c.topics[strings.TrimSpace(topic)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	pub, ok := c.publishers[full]
	if !ok {
		pub = c.client.Publisher(full)
		c.publishers[full] = pub
	}
	return pub, nil
}

// Ping checks that every configured topic exists.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	for _, full := range uniqueValues(c.topics) {
		_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: full})
		switch {
		case status.Code(err) == codes.NotFound:
			return fmt.Errorf("topic %s does not exist", full)
		case err != nil:
			return fmt.Errorf("checking topic %s: %w", full, err)
		}
	}
	return nil
}

// Close flushes pending messages and releases the connection.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	for full, pub := range c.publishers {
		pub.Stop()
		delete(c.publishers, full)
	}
	c.mu.Unlock()
	return c.client.Close()
}

// IsPermanent reports whether a publish error will fail the same way on retry.
func IsPermanent(err error) bool {
	if errors.Is(err, ErrUnknownTopic) {
		return true
	}
	switch status.Code(err) {
	case codes.NotFound, codes.PermissionDenied, codes.InvalidArgument, codes.FailedPrecondition:
		return true
	}
	return false
}

func uniqueValues(m map[string]string) []string {
	seen := make(map[string]struct{}, len(m))
	out := make([]string, 0, len(m))
	for _, v := range m {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func topicResourceName(projectID, name string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/topics/") {
		return n
	}
	p := strings.TrimSpace(projectID)
	if p == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/topics/%s", p, n)
}
