package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestProtocol(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		tests := []struct {
			protocol Protocol
			expected bool
		}{
			{ProtocolNode, true},
			{ProtocolMDC, true},
			{ProtocolPJLink, true},
			{"", false},
			{"telnet", false},
		}

		for _, tc := range tests {
			if got := tc.protocol.Valid(); got != tc.expected {
				t.Errorf("Valid(%q) = %v, want %v", tc.protocol, got, tc.expected)
			}
		}
	})

	t.Run("DefaultPort", func(t *testing.T) {
		tests := []struct {
			protocol Protocol
			expected int
		}{
			{ProtocolMDC, 1515},
			{ProtocolPJLink, 4352},
			{ProtocolNode, 3333},
			{"", 0},
		}

		for _, tc := range tests {
			if got := tc.protocol.DefaultPort(); got != tc.expected {
				t.Errorf("DefaultPort(%q) = %d, want %d", tc.protocol, got, tc.expected)
			}
		}
	})
}

func TestDevice_Defaults(t *testing.T) {
	t.Run("port falls back to protocol", func(t *testing.T) {
		d := Device{Protocol: ProtocolMDC, IP: "10.0.0.5"}
		if d.GetPort() != 1515 {
			t.Errorf("expected 1515, got %d", d.GetPort())
		}
		if d.Address() != "10.0.0.5:1515" {
			t.Errorf("unexpected address %q", d.Address())
		}
	})

	t.Run("explicit port wins", func(t *testing.T) {
		d := Device{Protocol: ProtocolPJLink, IP: "10.0.0.6", Port: 4000}
		if d.GetPort() != 4000 {
			t.Errorf("expected 4000, got %d", d.GetPort())
		}
	})

	t.Run("display id", func(t *testing.T) {
		d := Device{Protocol: ProtocolMDC}
		if d.GetDisplayID() != 0x01 {
			t.Errorf("expected default display id 0x01, got 0x%02X", d.GetDisplayID())
		}
		id := byte(0xFF)
		d.DisplayID = &id
		if d.GetDisplayID() != 0xFF {
			t.Errorf("expected 0xFF, got 0x%02X", d.GetDisplayID())
		}
	})

	t.Run("tags", func(t *testing.T) {
		d := Device{Tags: []string{"wall", "left"}}
		if !d.HasTag("wall") {
			t.Error("expected tag wall")
		}
		if d.HasTag("right") {
			t.Error("unexpected tag right")
		}
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}
	if cfg.Timeouts.RebootSettle != time.Second {
		t.Errorf("expected 1s reboot settle, got %v", cfg.Timeouts.RebootSettle)
	}
	if cfg.Timeouts.MDC != 5*time.Second {
		t.Errorf("expected 5s MDC timeout, got %v", cfg.Timeouts.MDC)
	}
	if cfg.WOL.Address != "255.255.255.255" || cfg.WOL.Port != 9 {
		t.Errorf("unexpected WOL defaults %+v", cfg.WOL)
	}
	if cfg.Node.BasePath != "/api/v1" {
		t.Errorf("expected /api/v1 base path, got %q", cfg.Node.BasePath)
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("expected Web port 8080, got %d", cfg.Web.Port)
	}
}

func TestLoadSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "config.yaml")

	t.Run("missing file yields defaults", func(t *testing.T) {
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Namespace != "observatory" {
			t.Errorf("expected default namespace, got %q", cfg.Namespace)
		}
	})

	t.Run("round trip", func(t *testing.T) {
		cfg := DefaultConfig()
		id := byte(0xFF)
		cfg.Devices = append(cfg.Devices, Device{
			ID: "wall-1", IP: "10.0.0.5", Protocol: ProtocolMDC, Tags: []string{"wall"}, DisplayID: &id,
		})
		cfg.SetBridge(BridgeCredential{Name: "lab", SecretHash: "hash"})
		if err := cfg.Save(path); err != nil {
			t.Fatalf("Save: %v", err)
		}

		loaded, err := Load(path)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		dev := loaded.FindDevice("wall-1")
		if dev == nil {
			t.Fatal("device not persisted")
		}
		if dev.GetDisplayID() != 0xFF {
			t.Errorf("display id lost, got 0x%02X", dev.GetDisplayID())
		}
		if loaded.FindBridge("lab") == nil {
			t.Error("bridge credential not persisted")
		}
	})

	t.Run("zero timeouts fall back", func(t *testing.T) {
		p := filepath.Join(dir, "zero.yaml")
		if err := os.WriteFile(p, []byte("namespace: x\ntimeouts:\n  mdc: 0s\n"), 0644); err != nil {
			t.Fatal(err)
		}
		cfg, err := Load(p)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Timeouts.MDC != 5*time.Second {
			t.Errorf("expected default MDC timeout, got %v", cfg.Timeouts.MDC)
		}
	})

	t.Run("invalid yaml", func(t *testing.T) {
		p := filepath.Join(dir, "bad.yaml")
		if err := os.WriteFile(p, []byte("devices: [\n"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(p); err == nil {
			t.Error("expected error for invalid yaml")
		}
	})
}

func TestChangeListeners(t *testing.T) {
	cfg := DefaultConfig()
	path := filepath.Join(t.TempDir(), "config.yaml")

	var wg sync.WaitGroup
	wg.Add(1)
	id := cfg.AddOnChangeListener(func() { wg.Done() })

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("listener not called")
	}

	cfg.RemoveOnChangeListener(id)
	if len(cfg.changeListeners) != 0 {
		t.Error("listener not removed")
	}
}

func TestDeviceCRUD(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.AddDevice(Device{ID: "p1", IP: "10.0.0.7", Protocol: ProtocolPJLink}); err != nil {
		t.Fatalf("AddDevice: %v", err)
	}
	if err := cfg.AddDevice(Device{ID: "p1", IP: "10.0.0.8", Protocol: ProtocolPJLink}); err == nil {
		t.Error("expected duplicate error")
	}
	if err := cfg.AddDevice(Device{ID: "x", IP: "10.0.0.8", Protocol: "serial"}); err == nil {
		t.Error("expected protocol error")
	}

	t.Run("protocol immutable", func(t *testing.T) {
		err := cfg.UpdateDevice("p1", Device{ID: "p1", IP: "10.0.0.7", Protocol: ProtocolMDC})
		if err == nil {
			t.Error("expected protocol change to fail")
		}
	})

	t.Run("update ip", func(t *testing.T) {
		err := cfg.UpdateDevice("p1", Device{ID: "p1", IP: "10.0.0.9", Protocol: ProtocolPJLink})
		if err != nil {
			t.Fatalf("UpdateDevice: %v", err)
		}
		if cfg.FindDevice("p1").IP != "10.0.0.9" {
			t.Error("ip not updated")
		}
	})

	if !cfg.RemoveDevice("p1") {
		t.Error("RemoveDevice returned false")
	}
	if cfg.RemoveDevice("p1") {
		t.Error("RemoveDevice on missing device returned true")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		devices []Device
		wantErr bool
	}{
		{"empty", nil, false},
		{"ok", []Device{{ID: "a", IP: "1.2.3.4", Protocol: ProtocolNode, MAC: "aa:bb:cc:dd:ee:ff"}}, false},
		{"bad mac", []Device{{ID: "a", IP: "1.2.3.4", Protocol: ProtocolNode, MAC: "nope"}}, true},
		{"missing ip", []Device{{ID: "a", Protocol: ProtocolMDC}}, true},
		{"duplicate", []Device{
			{ID: "a", IP: "1.2.3.4", Protocol: ProtocolMDC},
			{ID: "a", IP: "1.2.3.5", Protocol: ProtocolMDC},
		}, true},
		{"bad port", []Device{{ID: "a", IP: "1.2.3.4", Protocol: ProtocolMDC, Port: 70000}}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Devices = tc.devices
			err := cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestIsValidNamespace(t *testing.T) {
	tests := []struct {
		ns       string
		expected bool
	}{
		{"observatory", true},
		{"lab-1.wall_a", true},
		{"", false},
		{"has space", false},
		{"slash/ns", false},
	}

	for _, tc := range tests {
		if got := IsValidNamespace(tc.ns); got != tc.expected {
			t.Errorf("IsValidNamespace(%q) = %v, want %v", tc.ns, got, tc.expected)
		}
	}
}
