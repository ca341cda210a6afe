// Command evmpay-driver is a thin composition root: it loads a TOML
// config, opens the durable queue, builds a local-key signer from a
// keystore directory, and assembles a runtime.Runtime. The caller-facing
// front end (CLI argument parsing, RPC/IPC surface to external
// callers) is out of scope per spec §1 — this binary exists to show how
// the pieces wire together, the way the teacher's cmd/ entrypoints wire
// their own services.
package main

import (
	"bufio"
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/naoina/toml"

	"github.com/golemfactory/evmpay/config"
	evmlog "github.com/golemfactory/evmpay/log"
	"github.com/golemfactory/evmpay/queue"
	"github.com/golemfactory/evmpay/runtime"
	"github.com/golemfactory/evmpay/signer"
)

var logger = evmlog.NewModuleLogger(evmlog.ModuleRuntime)

func main() {
	configPath := flag.String("config", "evmpay.toml", "path to the engine config file")
	dsn := flag.String("dsn", "", "MySQL-compatible DSN for the durable queue")
	keystoreDir := flag.String("keystore", "", "directory of hex-encoded private key files to load into the local signer")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Crit("failed to load config", "path", *configPath, "err", err)
	}

	store, err := queue.Open(*dsn)
	if err != nil {
		logger.Crit("failed to open durable queue", "err", err)
	}
	defer store.Close()

	sgn := signer.NewLocalKeySigner()
	if *keystoreDir != "" {
		if err := loadKeystoreDir(sgn, *keystoreDir); err != nil {
			logger.Crit("failed to load keystore", "dir", *keystoreDir, "err", err)
		}
	}

	rt, err := runtime.New(cfg, runtime.Options{Store: store, Signer: sgn})
	if err != nil {
		logger.Crit("failed to build runtime", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutting down, draining in-flight pipeline tasks")
	rt.AbortTasks()
	rt.JoinTasks()
}

func loadConfig(path string) (*config.EngineConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var raw config.EngineConfig
	if err := toml.NewDecoder(f).Decode(&raw); err != nil {
		return nil, err
	}
	return &raw, nil
}

// loadKeystoreDir reads every file in dir as a hex-encoded secp256k1
// private key, one per line, and registers each with sgn. Blank lines
// and lines starting with '#' are skipped.
func loadKeystoreDir(sgn *signer.LocalKeySigner, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			key, err := crypto.HexToECDSA(strings.TrimPrefix(line, "0x"))
			if err != nil {
				f.Close()
				return err
			}
			addr := sgn.AddKey(key)
			logger.Info("loaded signing key", "address", addr, "file", entry.Name())
		}
		err = scanner.Err()
		f.Close()
		if err != nil {
			return err
		}
	}
	return nil
}
