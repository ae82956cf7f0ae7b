package whatsapp

import "wa-recall/pkg/recall"

const (
	// DriverType is the configured driver type token for the WhatsApp runtime.
	DriverType = "whatsapp"
	// DriverPlatform is the neutral platform produced by the WhatsApp runtime.
	DriverPlatform recall.Platform = recall.PlatformWhatsApp
)
