package machine

// Config sizes the emulated machine.
type Config struct {
	RAMBase    uint32 `yaml:"ram_base"`    // 0x00200000 (by default)
	RAMPages   int    `yaml:"ram_pages"`   // 256 pages (1 MiB)
	GDTEntries int    `yaml:"gdt_entries"` // 8
	TickMS     int    `yaml:"tick_ms"`     // 10
}

func DefaultConfig() Config {
	return Config{
		RAMBase:    0x00200000,
		RAMPages:   256,
		GDTEntries: 8,
		TickMS:     10,
	}
}

// Normalize replaces out of range values with defaults.
func (c Config) Normalize() Config {
	def := DefaultConfig()
	if c.RAMBase == 0 || c.RAMBase%4096 != 0 {
		c.RAMBase = def.RAMBase
	}
	if c.RAMPages <= 0 {
		c.RAMPages = def.RAMPages
	}
	// null, kernel code, kernel data, two task descriptors
	if c.GDTEntries < 5 {
		c.GDTEntries = def.GDTEntries
	}
	if c.TickMS <= 0 {
		c.TickMS = def.TickMS
	}
	return c
}
