package config

const (
	defaultLibraryDir            = "~/ogre-ebooks"
	defaultLogDir                = "~/.local/share/ogre/logs"
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultServerTimeoutSeconds  = 5
	defaultCalibreTimeoutSeconds = 60
	defaultDeDRMTimeoutSeconds   = 120
	defaultScanWorkers           = 1
)

// Default returns a Config populated with repository defaults. The format
// definitions ordering matches the server's stock configuration; the server
// copy replaces it after the first successful sync.
func Default() Config {
	return Config{
		Server: Server{
			TimeoutSeconds: defaultServerTimeoutSeconds,
		},
		Paths: Paths{
			LibraryDir: defaultLibraryDir,
			LogDir:     defaultLogDir,
		},
		Scan: Scan{
			Definitions: DefaultDefinitions(),
			Workers:     defaultScanWorkers,
		},
		Calibre: Calibre{
			TimeoutSeconds: defaultCalibreTimeoutSeconds,
		},
		DeDRM: DeDRM{
			Enabled:        true,
			TimeoutSeconds: defaultDeDRMTimeoutSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

// DefaultDefinitions returns the stock format preference ordering.
func DefaultDefinitions() []FormatDef {
	return []FormatDef{
		{Format: "mobi", ValidFormat: true},
		{Format: "pdf", NonFiction: true},
		{Format: "azw", NonFiction: true},
		{Format: "azw3", ValidFormat: true},
		{Format: "epub", ValidFormat: true},
	}
}
