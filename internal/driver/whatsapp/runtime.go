package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"wa-recall/pkg/recall"
)

const (
	defaultRuntimeSessionDB  = "data/whatsapp.db"
	defaultRuntimeDeviceName = "wa-recall"
	defaultRuntimePairWait   = 3 * time.Minute
)

type runtimeConfig struct {
	SessionDB       string `json:"session_db"`
	DeviceName      string `json:"device_name"`
	PublishTimeout  string `json:"publish_timeout"`
	OutboundTimeout string `json:"outbound_timeout"`
	PairTimeout     string `json:"pair_timeout"`
	UpdateBuffer    int    `json:"update_buffer"`
}

type parsedRuntimeConfig struct {
	sessionDB       string
	deviceName      string
	publishTimeout  time.Duration
	outboundTimeout time.Duration
	pairTimeout     time.Duration
	updateBuffer    int
}

// BuildRuntimeFromConfig builds one WhatsApp driver runtime from config payload.
//
// The returned Gateway serves outbound sends and the media, directory and
// identity lookups for the same session.
func BuildRuntimeFromConfig(
	ctx context.Context,
	name string,
	logger *slog.Logger,
	rawConfig []byte,
) (recall.EventSource, recall.Driver, *Gateway, error) {
	cfg, err := parseRuntimeConfig(rawConfig)
	if err != nil {
		return recall.EventSource{}, nil, nil, fmt.Errorf("parse whatsapp runtime config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("driver", name)

	setDeviceName(cfg.deviceName)
	device, err := openDevice(ctx, cfg.sessionDB, logger)
	if err != nil {
		return recall.EventSource{}, nil, nil, fmt.Errorf("open whatsapp device: %w", err)
	}
	client := newMeowClient(device, logger, cfg.pairTimeout)

	source, err := newClientSource(
		client,
		NewDefaultEventMapper(),
		WithSourceLogger(logger),
		WithUpdateBuffer(cfg.updateBuffer),
	)
	if err != nil {
		return recall.EventSource{}, nil, nil, fmt.Errorf("new whatsapp source: %w", err)
	}

	driver, err := NewDriver(
		source,
		NewDefaultDecoder(),
		WithName(name),
		WithPublishTimeout(cfg.publishTimeout),
		WithErrorHandler(func(ctx context.Context, err error) {
			logger.WarnContext(ctx, "whatsapp driver update failed", "error", err)
		}),
	)
	if err != nil {
		return recall.EventSource{}, nil, nil, fmt.Errorf("new whatsapp driver: %w", err)
	}

	gateway, err := newGateway(
		client,
		WithOutboundTimeout(cfg.outboundTimeout),
		WithOutboundLogger(logger),
		WithSinkRef(recall.EventSink{Platform: DriverPlatform, ID: name}),
	)
	if err != nil {
		return recall.EventSource{}, nil, nil, fmt.Errorf("new whatsapp gateway: %w", err)
	}

	return recall.EventSource{Platform: DriverPlatform, ID: name}, driver, gateway, nil
}

func parseRuntimeConfig(raw []byte) (parsedRuntimeConfig, error) {
	cfg := parsedRuntimeConfig{
		sessionDB:       defaultRuntimeSessionDB,
		deviceName:      defaultRuntimeDeviceName,
		publishTimeout:  defaultPublishTimeout,
		outboundTimeout: defaultOutboundTimeout,
		pairTimeout:     defaultRuntimePairWait,
		updateBuffer:    defaultUpdateBuffer,
	}
	if len(raw) == 0 {
		return cfg, nil
	}

	var parsed runtimeConfig
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return parsedRuntimeConfig{}, fmt.Errorf("unmarshal: %w", err)
	}

	if path := strings.TrimSpace(parsed.SessionDB); path != "" {
		cfg.sessionDB = path
	}
	if deviceName := strings.TrimSpace(parsed.DeviceName); deviceName != "" {
		cfg.deviceName = deviceName
	}
	if parsed.UpdateBuffer > 0 {
		cfg.updateBuffer = parsed.UpdateBuffer
	}

	durations := []struct {
		field  string
		raw    string
		target *time.Duration
	}{
		{field: "publish_timeout", raw: parsed.PublishTimeout, target: &cfg.publishTimeout},
		{field: "outbound_timeout", raw: parsed.OutboundTimeout, target: &cfg.outboundTimeout},
		{field: "pair_timeout", raw: parsed.PairTimeout, target: &cfg.pairTimeout},
	}
	for _, duration := range durations {
		value := strings.TrimSpace(duration.raw)
		if value == "" {
			continue
		}
		parsedDuration, err := time.ParseDuration(value)
		if err != nil {
			return parsedRuntimeConfig{}, fmt.Errorf("parse %s: %w", duration.field, err)
		}
		if parsedDuration <= 0 {
			return parsedRuntimeConfig{}, fmt.Errorf("parse %s: must be > 0", duration.field)
		}
		*duration.target = parsedDuration
	}

	return cfg, nil
}
