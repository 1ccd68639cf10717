package common

import (
	"time"

	"gopkg.in/ini.v1"
)

// LobbyConfig holds everything needed to maintain the upstream lobby server
// connection.
type LobbyConfig struct {
	Host     string
	Port     int
	Username string
	Password string

	PingInterval     time.Duration
	ConnectTries     int
	ConnectRetryWait time.Duration
}

// HostlistConfig holds the settings for the local query server.
type HostlistConfig struct {
	Host string
	Port int

	ConnectionLifetime time.Duration
	StatsInterval      time.Duration
}

// WebConfig holds the settings for the optional HTTP statistics endpoint.
type WebConfig struct {
	Enabled bool
	Port    int
}

// Config is the full configuration of the program, loaded from an ini file.
type Config struct {
	Lobby    LobbyConfig
	Hostlist HostlistConfig
	Web      WebConfig
}

// LoadConfig reads the configuration file at the given path. Missing keys fall
// back to the defaults of the public SpringRTS lobby server and a
// localhost-only query server.
func LoadConfig(path string) (*Config, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, err
	}

	lobby := file.Section("lobby")
	hostlist := file.Section("hostlist")
	web := file.Section("web")

	config := &Config{
		Lobby: LobbyConfig{
			Host:             lobby.Key("host").MustString("lobby.springrts.com"),
			Port:             lobby.Key("port").MustInt(8200),
			Username:         lobby.Key("username").String(),
			Password:         lobby.Key("password").String(),
			PingInterval:     time.Duration(lobby.Key("ping_interval").MustInt(30)) * time.Second,
			ConnectTries:     lobby.Key("connect_tries").MustInt(360),
			ConnectRetryWait: time.Duration(lobby.Key("connect_retry_wait").MustInt(10)) * time.Second,
		},
		Hostlist: HostlistConfig{
			Host:               hostlist.Key("host").MustString("127.0.0.1"),
			Port:               hostlist.Key("port").MustInt(8222),
			ConnectionLifetime: time.Duration(hostlist.Key("connection_lifetime").MustInt(3600)) * time.Second,
			StatsInterval:      time.Duration(hostlist.Key("stats_interval").MustInt(300)) * time.Second,
		},
		Web: WebConfig{
			Enabled: web.Key("enabled").MustBool(false),
			Port:    web.Key("port").MustInt(8223),
		},
	}

	return config, nil
}
