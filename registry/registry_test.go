package registry

import (
	"path/filepath"
	"testing"
	"time"

	"observatory/config"
)

func testDevices() []config.Device {
	return []config.Device{
		{ID: "wall-1", IP: "10.0.0.1", Protocol: config.ProtocolMDC, Tags: []string{"lobby", "wall"}},
		{ID: "proj-1", IP: "10.0.0.2", Protocol: config.ProtocolPJLink, Tags: []string{"lobby"}},
		{ID: "pc-1", IP: "10.0.0.3", Protocol: config.ProtocolNode, MAC: "00:11:22:33:44:55"},
	}
}

func TestSnapshot_GetAndList(t *testing.T) {
	s := NewSnapshot(testDevices())

	d, ok := s.Get("proj-1")
	if !ok || d.Protocol != config.ProtocolPJLink {
		t.Fatalf("Get(proj-1) = %+v, %v", d, ok)
	}
	if _, ok := s.Get("missing"); ok {
		t.Error("unexpected device")
	}

	tests := []struct {
		tag  string
		want []string
	}{
		{"", []string{"wall-1", "proj-1", "pc-1"}},
		{"lobby", []string{"wall-1", "proj-1"}},
		{"wall", []string{"wall-1"}},
		{"roof", nil},
	}
	for _, tt := range tests {
		t.Run("tag="+tt.tag, func(t *testing.T) {
			got := s.List(tt.tag)
			if len(got) != len(tt.want) {
				t.Fatalf("List(%q) = %d devices, want %d", tt.tag, len(got), len(tt.want))
			}
			for i := range got {
				if got[i].ID != tt.want[i] {
					t.Errorf("List(%q)[%d] = %s, want %s", tt.tag, i, got[i].ID, tt.want[i])
				}
			}
		})
	}
}

func TestSnapshot_Immutable(t *testing.T) {
	devs := testDevices()
	s := NewSnapshot(devs)

	devs[0].IP = "changed"
	devs[0].Tags[0] = "changed"
	d, _ := s.Get("wall-1")
	if d.IP != "10.0.0.1" || d.Tags[0] != "lobby" {
		t.Errorf("snapshot mutated through source slice: %+v", d)
	}

	d.IP = "changed"
	again, _ := s.Get("wall-1")
	if again.IP != "10.0.0.1" {
		t.Error("snapshot mutated through returned device")
	}
}

func TestStore_ReloadOnSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := config.DefaultConfig()
	cfg.Devices = testDevices()

	st := NewStore(cfg)
	defer st.Close()

	old := st.Snapshot()
	if old.Len() != 3 {
		t.Fatalf("Len = %d", old.Len())
	}

	dev, _ := st.Get("wall-1")
	a1, err := st.Adapter(dev)
	if err != nil {
		t.Fatal(err)
	}
	a2, _ := st.Adapter(dev)
	if a1 != a2 {
		t.Error("adapter not cached")
	}

	cfg.Lock()
	cfg.Devices[0].IP = "10.0.0.9"
	cfg.Devices = cfg.Devices[:2]
	if err := cfg.UnlockAndSave(path); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for st.Snapshot() == old && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if st.Snapshot() == old {
		t.Fatal("snapshot not reloaded")
	}
	if _, ok := st.Get("pc-1"); ok {
		t.Error("removed device still present")
	}
	if old.Len() != 3 {
		t.Error("old snapshot changed")
	}

	dev, _ = st.Get("wall-1")
	a3, _ := st.Adapter(dev)
	if a3 == a1 {
		t.Error("adapter not rebuilt after device change")
	}
}

func TestStore_OptionChangeDropsAdapters(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"node token", func(c *config.Config) { c.Node.AuthToken = "rotated" }},
		{"timeouts", func(c *config.Config) { c.Timeouts.MDC = 9 * time.Second }},
		{"wol", func(c *config.Config) { c.WOL.Port = 7 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.Devices = testDevices()
			st := NewStore(cfg)
			defer st.Close()

			dev, _ := st.Get("wall-1")
			before, err := st.Adapter(dev)
			if err != nil {
				t.Fatal(err)
			}

			st.Reload()
			dev, _ = st.Get("wall-1")
			if same, _ := st.Adapter(dev); same != before {
				t.Fatal("adapter dropped without any change")
			}

			cfg.Lock()
			tt.mutate(cfg)
			cfg.Unlock()
			st.Reload()

			dev, _ = st.Get("wall-1")
			if after, _ := st.Adapter(dev); after == before {
				t.Error("adapter kept stale options")
			}
		})
	}
}

func TestStore_AdapterUnknownProtocol(t *testing.T) {
	cfg := config.DefaultConfig()
	st := NewStore(cfg)
	defer st.Close()

	if _, err := st.Adapter(&config.Device{ID: "x", Protocol: "serial"}); err == nil {
		t.Error("expected error")
	}
}
