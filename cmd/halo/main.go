package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"halochain/config"
	nativesync "halochain/native/sync"
	"halochain/observability"
	"halochain/observability/logging"
	"halochain/rpc"
	statesync "halochain/state/sync"
	"halochain/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("HALO_ENV"))
	logger := logging.Setup("halo", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	manager := statesync.NewManager(db)
	if err := grantRoles(manager, cfg.Roles); err != nil {
		logger.Error("Failed to grant configured roles", slog.Any("error", err))
		os.Exit(1)
	}
	if err := seedGovernanceFlag(manager, cfg.GovernanceChain); err != nil {
		logger.Error("Failed to seed governance flag", slog.Any("error", err))
		os.Exit(1)
	}

	engine := nativesync.NewEngine()
	engine.SetState(manager)
	engine.SetLocalChain(cfg.ChainID)
	engine.SetPolicy(policyFromConfig(cfg.Sync))
	engine.SetEmitter(observability.MultiEmitter{
		observability.LogEmitter{Logger: logger},
		observability.EventRecorder{},
	})

	logger.Info("node initialised",
		slog.String("network", cfg.NetworkName),
		slog.Uint64("chainId", uint64(cfg.ChainID)),
		slog.Bool("governance", cfg.GovernanceChain),
	)

	server := rpc.NewServer(engine, logger)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server terminated", slog.Any("error", err))
		os.Exit(1)
	}
}

func policyFromConfig(sc config.SyncConfig) nativesync.Policy {
	policy := nativesync.Policy{
		MaxEpochSkip:        sc.MaxEpochSkip,
		EmergencyEpochBound: sc.EmergencyEpochBound,
	}
	if sc.CooldownSeconds > 0 {
		policy.StateUpdateCooldown = time.Duration(sc.CooldownSeconds) * time.Second
	}
	if sc.MaxDriftSeconds > 0 {
		policy.MaxDrift = time.Duration(sc.MaxDriftSeconds) * time.Second
	}
	if sc.MinHalvingIntervalSeconds > 0 {
		policy.MinHalvingInterval = time.Duration(sc.MinHalvingIntervalSeconds) * time.Second
	}
	return policy
}

func grantRoles(manager *statesync.Manager, roles config.RolesConfig) error {
	groups := map[string][]string{
		nativesync.RoleAdmin:     roles.Admin,
		nativesync.RoleSync:      roles.Sync,
		nativesync.RoleEmergency: roles.Emergency,
		nativesync.RoleOracle:    roles.Oracle,
	}
	for role, members := range groups {
		for _, member := range members {
			addr, err := nativesync.ParseAddress(member)
			if err != nil {
				return fmt.Errorf("role %s: %w", role, err)
			}
			if err := manager.GrantRole(role, addr[:]); err != nil {
				return fmt.Errorf("role %s: %w", role, err)
			}
		}
	}
	return nil
}

func seedGovernanceFlag(manager *statesync.Manager, governance bool) error {
	global, err := manager.Global()
	if err != nil {
		return err
	}
	if global.GovernanceChain == governance {
		return nil
	}
	global.GovernanceChain = governance
	return manager.PutGlobal(global)
}
