// Command p2pcore runs a standalone GossipSub + Circuit Relay peer node.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/p2pstack/corenet/internal/config"
	"github.com/p2pstack/corenet/internal/configwatch"
	"github.com/p2pstack/corenet/internal/identity"
	"github.com/p2pstack/corenet/internal/peerid"
)

var (
	showHelp = flag.Bool("h", false, "Show help")
	version  = flag.Bool("version", false, "Show version")
	peers    = flag.String("peers", "", "comma-separated <peer-id>@<host:port> addresses to seed the mesh with")
)

var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("p2pcore v%s\n", appVersion)
		return
	}
	if *showHelp {
		showUsage()
		return
	}

	args := flag.Args()
	if len(args) < 2 || args[0] != "peer" {
		showUsage()
		os.Exit(1)
	}
	runPeer(args[1])
}

func showUsage() {
	fmt.Println("p2pcore - GossipSub + Circuit Relay peer node")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  p2pcore peer <directory>   Run a peer from the given data directory")
	fmt.Println()
	fmt.Println("The directory must contain (or will be given) a p2pcore.json config")
	fmt.Println("file and an identity.key keypair file.")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -h        Show this help message")
	fmt.Println("  -version  Show version information")
}

func runPeer(dirArg string) {
	absDir, err := filepath.Abs(dirArg)
	if err != nil {
		log.Fatalf("invalid peer directory: %v", err)
	}
	if stat, err := os.Stat(absDir); err != nil || !stat.IsDir() {
		log.Fatalf("peer directory does not exist: %s", absDir)
	}

	cfgPath := filepath.Join(absDir, "p2pcore.json")
	cfg, created, err := config.Ensure(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if created {
		log.Printf("p2pcore: wrote default config to %s", cfgPath)
	}

	kp, err := loadOrCreateIdentity(filepath.Join(absDir, cfg.Identity.KeyFile))
	if err != nil {
		log.Fatalf("failed to load identity: %v", err)
	}

	cw, err := configwatch.New(cfgPath, cfg)
	if err != nil {
		log.Fatalf("failed to start config watcher: %v", err)
	}
	defer cw.Close()

	printBanner(absDir, cfgPath, kp)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutting down gracefully...")
		cancel()
	}()

	node := newNode(cfg, kp, cw)
	seedPeers(node, *peers)
	if err := node.Start(ctx); err != nil {
		log.Fatalf("peer failed to start: %v", err)
	}

	<-ctx.Done()
}

// seedPeers parses "-peers" ("<peer-id>@<host:port>,...") and registers
// each dial address so the first GossipSub/Relay operation against that
// peer can dial out instead of requiring an inbound connection first.
func seedPeers(node *Node, spec string) {
	if spec == "" {
		return
	}
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		at := strings.IndexByte(entry, '@')
		if at < 0 {
			log.Printf("p2pcore: ignoring malformed -peers entry %q (want <peer-id>@<host:port>)", entry)
			continue
		}
		id, err := peerid.Decode(entry[:at])
		if err != nil {
			log.Printf("p2pcore: ignoring -peers entry with invalid peer id %q: %v", entry, err)
			continue
		}
		node.AddPeerAddr(id, entry[at+1:])
	}
}

func loadOrCreateIdentity(path string) (identity.KeyPair, error) {
	if b, err := os.ReadFile(path); err == nil {
		seed, err := hex.DecodeString(string(b))
		if err != nil {
			return nil, err
		}
		return identity.Ed25519FromSeed(seed), nil
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	kp, err := identity.GenerateEd25519()
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(kp.Seed())), 0o600); err != nil {
		return nil, err
	}
	return kp, nil
}

func printBanner(peerDir, cfgPath string, kp identity.KeyPair) {
	fmt.Println("p2pcore peer")
	fmt.Printf("  data dir: %s\n", peerDir)
	fmt.Printf("  config:   %s\n", cfgPath)
	fmt.Printf("  peer id:  %s\n", kp.PeerID())
	fmt.Println("starting... (ctrl-c to stop)")
}
