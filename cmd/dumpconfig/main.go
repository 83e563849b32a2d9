package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/ncecere/voice_translator/internal/config"
)

func main() {
	file := flag.String("config", "", "path to translator.yaml")
	flag.Parse()

	cfg, err := config.Load(config.Options{ConfigFile: *file})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	mask(&cfg.Engine.OpenAIKey)
	mask(&cfg.Auth.JWTSecret)
	mask(&cfg.Client.AuthToken)
	mask(&cfg.Archive.EncryptionKey)
	mask(&cfg.Archive.S3.SecretAccessKey)
	mask(&cfg.Database.URL)
	mask(&cfg.Redis.URL)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cfg); err != nil {
		log.Fatalf("encode config: %v", err)
	}
}

func mask(s *string) {
	if *s != "" {
		*s = "********"
	}
}
