package config

const (
	defaultProjectDB        = "cuemap.db"
	defaultAssetsDir        = "assets"
	defaultOutputDir        = "export"
	defaultSampleRate       = 48000
	defaultBitDepth         = 16
	defaultHistoryMax       = 50
	defaultAPIURL           = "https://api.elevenlabs.io"
	defaultRequestTimeout   = 120
	defaultVoiceDesignModel = "eleven_multilingual_ttv_v2"
	defaultTTSModel         = "eleven_multilingual_v2"
	defaultVoiceID          = "21m00Tcm4TlvDq8ikWAM"
	defaultOutputFormat     = "mp3_44100_128"
	defaultPromptInfluence  = 0.3
	defaultAuditionPort     = 8080
	defaultCrossfadeSeconds = 2
	defaultWatchDebounceMS  = 500
	defaultLogLevel         = "info"
	defaultLogFormat        = "console"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			ProjectDB: defaultProjectDB,
			AssetsDir: defaultAssetsDir,
			OutputDir: defaultOutputDir,
		},
		Assembly: Assembly{
			SampleRate: defaultSampleRate,
			BitDepth:   defaultBitDepth,
			Stems:      true,
		},
		History: History{MaxEntries: defaultHistoryMax},
		Generation: Generation{
			APIURL:                defaultAPIURL,
			RequestTimeoutSeconds: defaultRequestTimeout,
			VoiceDesignModel:      defaultVoiceDesignModel,
			TTSModel:              defaultTTSModel,
			DefaultVoiceID:        defaultVoiceID,
			OutputFormat:          defaultOutputFormat,
			PromptInfluence:       defaultPromptInfluence,
		},
		Audition: Audition{
			Port:             defaultAuditionPort,
			CrossfadeSeconds: defaultCrossfadeSeconds,
			DebounceMS:       defaultWatchDebounceMS,
		},
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}
