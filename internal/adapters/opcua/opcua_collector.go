// Package opcua collects readings from an upstream OPC UA server by
// monitoring a configured set of nodes.
package opcua

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/fledge-iot/fledge-north-opcua/internal/adapters/uavariant"
	"github.com/fledge-iot/fledge-north-opcua/internal/domain"
	"github.com/fledge-iot/fledge-north-opcua/internal/ports"
)

// Config describes the upstream session and the monitored nodes.
type Config struct {
	Endpoint         string        `yaml:"endpoint"`
	Username         string        `yaml:"username"`
	Password         string        `yaml:"password"`
	SecurityMode     string        `yaml:"security_mode"`
	SecurityPolicy   string        `yaml:"security_policy"`
	ApplicationName  string        `yaml:"application_name"`
	PublishInterval  time.Duration `yaml:"publish_interval"`
	SamplingInterval time.Duration `yaml:"sampling_interval"`
	Nodes            []NodeConfig  `yaml:"nodes"`
}

// NodeConfig maps one monitored node onto a datapoint of an asset. Nodes
// sharing an asset are merged into one reading per notification.
type NodeConfig struct {
	NodeID    string `yaml:"node_id"`
	Asset     string `yaml:"asset"`
	Datapoint string `yaml:"datapoint"`
}

func (c *Config) ApplyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "opcua-north collector"
	}
	if c.PublishInterval <= 0 {
		c.PublishInterval = 250 * time.Millisecond
	}
	if c.SamplingInterval < 0 {
		c.SamplingInterval = 0
	}
	for i := range c.Nodes {
		if c.Nodes[i].Asset == "" {
			c.Nodes[i].Asset = c.Nodes[i].NodeID
		}
		if c.Nodes[i].Datapoint == "" {
			c.Nodes[i].Datapoint = "value"
		}
	}
}

func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if len(c.Nodes) == 0 {
		return errors.New("at least one node must be configured")
	}
	return nil
}

type Collector struct {
	cfg Config
	obs ports.Observability

	mu        sync.Mutex
	client    *opcua.Client
	sub       *opcua.Subscription
	cancel    context.CancelFunc
	handleMap map[uint32]NodeConfig
	started   bool

	wg sync.WaitGroup
}

func NewCollector(cfg Config, obs ports.Observability) (*Collector, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Collector{cfg: cfg, obs: obs}, nil
}

func (c *Collector) Start(out chan<- *domain.Reading) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("opcua collector already started")
	}
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	client, err := opcua.NewClient(c.cfg.Endpoint, c.clientOptions()...)
	if err != nil {
		cancel()
		return fmt.Errorf("opcua new client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		cancel()
		return fmt.Errorf("opcua connect %s: %w", c.cfg.Endpoint, err)
	}

	notifyCh := make(chan *opcua.PublishNotificationData, len(c.cfg.Nodes)*4)
	sub, err := client.Subscribe(ctx, &opcua.SubscriptionParameters{
		Interval: c.cfg.PublishInterval,
	}, notifyCh)
	if err != nil {
		cancel()
		_ = client.Close(ctx)
		return fmt.Errorf("opcua subscribe: %w", err)
	}

	handleMap, err := c.monitor(ctx, sub)
	if err != nil {
		cancel()
		_ = sub.Cancel(ctx)
		_ = client.Close(ctx)
		return err
	}

	c.mu.Lock()
	c.client = client
	c.sub = sub
	c.cancel = cancel
	c.handleMap = handleMap
	c.started = true
	c.mu.Unlock()

	c.obs.LogInfo("collector_started",
		ports.F("endpoint", c.cfg.Endpoint),
		ports.F("nodes", len(handleMap)),
	)

	c.wg.Add(1)
	go c.consume(ctx, notifyCh, out)
	return nil
}

func (c *Collector) monitor(ctx context.Context, sub *opcua.Subscription) (map[uint32]NodeConfig, error) {
	handleMap := make(map[uint32]NodeConfig, len(c.cfg.Nodes))
	for i, node := range c.cfg.Nodes {
		nodeID, err := ua.ParseNodeID(node.NodeID)
		if err != nil {
			return nil, fmt.Errorf("parse node id %q: %w", node.NodeID, err)
		}
		handle := uint32(i + 1)
		req := opcua.NewMonitoredItemCreateRequestWithDefaults(nodeID, ua.AttributeIDValue, handle)
		if c.cfg.SamplingInterval > 0 {
			req.RequestedParameters.SamplingInterval = float64(c.cfg.SamplingInterval / time.Millisecond)
		}
		res, err := sub.Monitor(ctx, ua.TimestampsToReturnBoth, req)
		if err != nil {
			return nil, fmt.Errorf("monitor node %q: %w", node.NodeID, err)
		}
		if len(res.Results) == 0 {
			return nil, fmt.Errorf("monitor node %q: empty result", node.NodeID)
		}
		if res.Results[0].StatusCode != ua.StatusOK {
			return nil, fmt.Errorf("monitor node %q: %s", node.NodeID, res.Results[0].StatusCode)
		}
		handleMap[handle] = node
	}
	return handleMap, nil
}

func (c *Collector) Stop() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	cancel, sub, client := c.cancel, c.sub, c.client
	c.started = false
	c.cancel, c.sub, c.client = nil, nil, nil
	c.mu.Unlock()

	cancel()

	ctx, ctxCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ctxCancel()

	var err error
	if e := sub.Cancel(ctx); e != nil && !errors.Is(e, context.Canceled) {
		err = errors.Join(err, e)
	}
	if e := client.Close(ctx); e != nil && !errors.Is(e, context.Canceled) {
		err = errors.Join(err, e)
	}
	c.wg.Wait()
	return err
}

func (c *Collector) consume(ctx context.Context, ch <-chan *opcua.PublishNotificationData, out chan<- *domain.Reading) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case notif := <-ch:
			if notif == nil {
				continue
			}
			if notif.Error != nil {
				c.obs.LogWarn("collector_notification_error", ports.F("error", notif.Error.Error()))
				continue
			}
			data, ok := notif.Value.(*ua.DataChangeNotification)
			if !ok {
				continue
			}
			for _, r := range readingsFrom(c.handleMap, data.MonitoredItems, time.Now()) {
				select {
				case <-ctx.Done():
					return
				case out <- r:
				}
			}
		}
	}
}

// readingsFrom groups monitored item changes by asset, keeping the order in
// which assets first appear. A reading takes the newest source timestamp of
// its items, falling back to the server timestamp and then to now.
func readingsFrom(handles map[uint32]NodeConfig, items []*ua.MonitoredItemNotification, now time.Time) []*domain.Reading {
	var (
		out     []*domain.Reading
		byAsset = make(map[string]*domain.Reading)
		stamps  = make(map[string]time.Time)
	)
	for _, item := range items {
		node, ok := handles[item.ClientHandle]
		if !ok || item.Value == nil {
			continue
		}
		r, ok := byAsset[node.Asset]
		if !ok {
			r = &domain.Reading{Asset: node.Asset}
			byAsset[node.Asset] = r
			out = append(out, r)
		}
		r.Datapoints = append(r.Datapoints, domain.Datapoint{
			Name:  node.Datapoint,
			Value: uavariant.FromVariant(item.Value.Value),
		})

		ts := item.Value.SourceTimestamp
		if ts.IsZero() {
			ts = item.Value.ServerTimestamp
		}
		if ts.After(stamps[node.Asset]) {
			stamps[node.Asset] = ts
		}
	}
	for _, r := range out {
		ts := stamps[r.Asset]
		if ts.IsZero() {
			ts = now
		}
		r.Timestamp = domain.TimestampOf(ts)
	}
	return out
}

func (c *Collector) clientOptions() []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(c.cfg.SecurityMode)),
		opcua.SecurityPolicy(normalizeSecurityPolicy(c.cfg.SecurityPolicy)),
		opcua.ApplicationName(c.cfg.ApplicationName),
		opcua.AutoReconnect(true),
	}
	if c.cfg.Username != "" {
		return append(opts, opcua.AuthUsername(c.cfg.Username, c.cfg.Password))
	}
	return append(opts, opcua.AuthAnonymous())
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt", "sign_and_encrypt", "sign+encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

func normalizeSecurityPolicy(policy string) string {
	if policy == "" {
		return "None"
	}
	return policy
}

var _ ports.Collector = (*Collector)(nil)
