package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/c2FmZQ/storage"
	"github.com/c2FmZQ/storage/crypto"
	"github.com/ttbt-io/wicketkeeper/backend"
	"github.com/ttbt-io/wicketkeeper/backend/scoring"
)

var (
	dataDir   = flag.String("data-dir", "data", "Directory for match and team data")
	scorecard = flag.Bool("scorecard", false, "Replay match files and print the scorecard instead of JSON")
)

// main decodes stored match and team files, e.g.
//
//	readfile --data-dir=data matches/<id>.json teams/<id>.json
func main() {
	flag.Parse()
	var masterKey crypto.MasterKey
	if passphrase := os.Getenv("WK_MASTER_KEY"); passphrase != "" {
		var err error
		masterKey, err = crypto.ReadMasterKey([]byte(passphrase), filepath.Join(*dataDir, "master.key"))
		if err != nil {
			log.Fatalf("Failed to read master key: %v", err)
		}
	} else if _, err := os.Stat(filepath.Join(*dataDir, "master.key")); err == nil {
		log.Fatalf("Critical Security Error: master.key exists but WK_MASTER_KEY is not set. Refusing to read encrypted data in unencrypted mode.")
	}
	store := storage.New(*dataDir, masterKey)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	for _, arg := range flag.Args() {
		arg = strings.TrimPrefix(strings.TrimPrefix(arg, *dataDir), "/")
		isMatch := strings.HasPrefix(arg, "matches/") && !strings.HasSuffix(arg, ".meta.json")
		var obj any
		switch {
		case isMatch:
			obj = new(backend.MatchRecord)
		case strings.HasSuffix(arg, ".meta.json"):
			obj = new(backend.MatchMetadata)
		default:
			obj = new(backend.Team)
		}
		if err := store.ReadDataFile(arg, obj); err != nil {
			log.Printf("%s: %v", arg, err)
			continue
		}
		fmt.Printf("=========== %s ===========\n", arg)
		if *scorecard && isMatch {
			rec := obj.(*backend.MatchRecord)
			m, err := scoring.Replay(rec.Commands)
			if err != nil {
				log.Printf("replay %s: %v", arg, err)
				continue
			}
			if err := scoring.WriteScorecard(os.Stdout, m.Scoreboard()); err != nil {
				log.Printf("scorecard %s: %v", arg, err)
			}
			continue
		}
		if err := enc.Encode(obj); err != nil {
			log.Printf("JSON: %s: %v", arg, err)
		}
	}
}
