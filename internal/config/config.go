package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Telegram struct {
		BotToken  string
		OwnerChat int64
		LogChat   int64
	}
	Server struct {
		Addr string
	}
	Database struct {
		Path string
	}
	Download struct {
		DataDir       string
		TorrentDir    string
		ThumbDir      string
		MaxFileSize   int64
		ChunkSize     int64
		MaxConcurrent int
		MediaDomains  []string
	}
	Torrent struct {
		ListenPort      int
		MetadataTimeout time.Duration
		DownloadTimeout time.Duration
		PollInterval    time.Duration
	}
	Task struct {
		Cooldown        time.Duration
		RefreshInterval time.Duration
		MaxEditFailures int
	}
	Storage struct {
		Bucket    string
		KeyPrefix string
		Region    string
		Endpoint  string
	}
	AWS struct {
		Profile string
	}
}

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	loadDotEnv()

	v := viper.New()
	v.SetEnvPrefix("COURIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("telegram.bottoken", "")
	v.SetDefault("telegram.ownerchat", int64(0))
	v.SetDefault("telegram.logchat", int64(0))
	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("database.path", "data/courier.db")
	v.SetDefault("download.datadir", "data/downloads")
	v.SetDefault("download.torrentdir", "data/torrents")
	v.SetDefault("download.thumbdir", "data/thumbs")
	v.SetDefault("download.maxfilesize", int64(4)<<30)
	v.SetDefault("download.chunksize", int64(10)<<20)
	v.SetDefault("download.maxconcurrent", 3)
	v.SetDefault("download.mediadomains", []string{})
	v.SetDefault("torrent.listenport", 0)
	v.SetDefault("torrent.metadatatimeout", 180*time.Second)
	v.SetDefault("torrent.downloadtimeout", 7200*time.Second)
	v.SetDefault("torrent.pollinterval", time.Second)
	v.SetDefault("task.cooldown", 159*time.Second)
	v.SetDefault("task.refreshinterval", 10*time.Second)
	v.SetDefault("task.maxeditfailures", 3)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.keyprefix", "courier-artifacts")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("aws.profile", "")

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Telegram.BotToken == "" {
		return Config{}, fmt.Errorf("telegram bot token is required (COURIER_TELEGRAM_BOTTOKEN)")
	}

	return cfg, nil
}

func loadDotEnv() {
	file, err := os.Open(".env")
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		partsIndex := strings.Index(line, "=")
		if partsIndex <= 0 {
			continue
		}

		key := strings.TrimSpace(line[:partsIndex])
		value := strings.TrimSpace(line[partsIndex+1:])
		value = strings.Trim(value, `"'`)
		if key == "" {
			continue
		}

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
