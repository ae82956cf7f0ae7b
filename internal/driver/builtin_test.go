package driver

import (
	"testing"

	"wa-recall/internal/driver/whatsapp"
)

func TestNewBuiltinRegistryIncludesWhatsApp(t *testing.T) {
	t.Parallel()

	registry, err := NewBuiltinRegistry()
	if err != nil {
		t.Fatalf("new builtin registry failed: %v", err)
	}

	platform, err := registry.PlatformForType(whatsapp.DriverType)
	if err != nil {
		t.Fatalf("platform for whatsapp type failed: %v", err)
	}
	if platform != whatsapp.DriverPlatform {
		t.Fatalf("platform = %s, want %s", platform, whatsapp.DriverPlatform)
	}
	if types := registry.Types(); len(types) != 1 || types[0] != whatsapp.DriverType {
		t.Fatalf("types = %v, want [whatsapp]", types)
	}
}
