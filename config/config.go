package config

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultRPCTimeout          = 30 * time.Second
	defaultReceiptPollInterval = 2 * time.Second
	defaultAttestationTimeout  = 10 * time.Second
	defaultPollInterval        = 5 * time.Second
	defaultMaxPolls            = 60
	defaultMaxTransportErrors  = 12
)

type RPCConfig struct {
	Host    string   `yaml:"host"`
	Timeout Duration `yaml:"timeout"`
}

// ChainConfig is the static per-chain registry entry. It is loaded once at
// startup and never mutated afterwards.
type ChainConfig struct {
	ChainID             string     `yaml:"chain_id"`
	Domain              uint32     `yaml:"domain"`
	RPC                 *RPCConfig `yaml:"rpc"`
	TokenMessenger      Address    `yaml:"token_messenger"`
	MessageTransmitter  Address    `yaml:"message_transmitter"`
	Token               Address    `yaml:"token"`
	ExplorerURL         string     `yaml:"explorer_url"`
	ReceiptPollInterval Duration   `yaml:"receipt_poll_interval"`
}

func (c *ChainConfig) TxLink(txHash string) string {
	if c.ExplorerURL == "" {
		return txHash
	}
	return fmt.Sprintf("%s/tx/%s", c.ExplorerURL, txHash)
}

type AttestationConfig struct {
	BaseURL            string   `yaml:"base_url"`
	RequestTimeout     Duration `yaml:"request_timeout"`
	PollInterval       Duration `yaml:"poll_interval"`
	MaxPolls           int      `yaml:"max_polls"`
	MaxTransportErrors int      `yaml:"max_transport_errors"`
}

type SignerConfig struct {
	PrivateKey string `yaml:"private_key"`
}

type DBConfig struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       string `yaml:"database"`
}

type PresenterConfig struct {
	Host string `yaml:"host"`
}

type Config struct {
	Chains      map[string]*ChainConfig `yaml:"chains"`
	Attestation *AttestationConfig      `yaml:"attestation"`
	Signer      *SignerConfig           `yaml:"signer"`
	DBConfig    *DBConfig               `yaml:"postgres"`
	LogLevel    Level                   `yaml:"log_level"`
	Presenter   *PresenterConfig        `yaml:"presenter"`
}

func ReadConfig(blob []byte) (*Config, error) {
	cfg := new(Config)
	if err := parseYaml(cfg, blob); err != nil {
		return nil, err
	}
	if err := cfg.init(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadConfigWithEnv reads the config after substituting ${VAR} references
// from the process environment.
func ReadConfigWithEnv(blob []byte) (*Config, error) {
	return ReadConfig([]byte(os.ExpandEnv(string(blob))))
}

func ReadConfigFromFile(path string) (*Config, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("can't read config file: %w", err)
	}
	return ReadConfigWithEnv(blob)
}

func (cfg *Config) init() error {
	if len(cfg.Chains) == 0 {
		return fmt.Errorf("no chains configured")
	}
	for name, chain := range cfg.Chains {
		if chain.RPC == nil || chain.RPC.Host == "" {
			return fmt.Errorf("chain %s: missing rpc host", name)
		}
		if chain.ChainID == "" {
			return fmt.Errorf("chain %s: missing chain_id", name)
		}
		if chain.RPC.Timeout == 0 {
			chain.RPC.Timeout = Duration(defaultRPCTimeout)
		}
		if chain.ReceiptPollInterval == 0 {
			chain.ReceiptPollInterval = Duration(defaultReceiptPollInterval)
		}
	}
	if cfg.Attestation == nil {
		return fmt.Errorf("missing attestation config")
	}
	if cfg.Attestation.BaseURL == "" {
		return fmt.Errorf("missing attestation base_url")
	}
	if cfg.Attestation.RequestTimeout == 0 {
		cfg.Attestation.RequestTimeout = Duration(defaultAttestationTimeout)
	}
	if cfg.Attestation.PollInterval == 0 {
		cfg.Attestation.PollInterval = Duration(defaultPollInterval)
	}
	if cfg.Attestation.MaxPolls == 0 {
		cfg.Attestation.MaxPolls = defaultMaxPolls
	}
	if cfg.Attestation.MaxTransportErrors == 0 {
		cfg.Attestation.MaxTransportErrors = defaultMaxTransportErrors
	}
	if cfg.Signer == nil || cfg.Signer.PrivateKey == "" {
		return fmt.Errorf("missing signer private_key")
	}
	if cfg.LogLevel == Level(logrus.PanicLevel) {
		cfg.LogLevel = Level(logrus.InfoLevel)
	}
	return nil
}
