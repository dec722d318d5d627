package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/park285/hpl-runner/internal/domain"
	"github.com/park285/hpl-runner/internal/hplapi"
	"github.com/park285/hpl-runner/internal/identity"
)

func main() {
	_ = godotenv.Load()

	launch := flag.String("launch", "", "minigame to launch after creating a guest (e.g. memory)")
	sign := flag.String("sign", "", "print a launch token for this guest id and exit")
	collection := flag.String("collection", "", "collection id embedded in -sign tokens")
	ttl := flag.Duration("ttl", time.Hour, "lifetime of -sign tokens")
	flag.Parse()

	if *sign != "" {
		secret := os.Getenv("HPL_LAUNCH_TOKEN_SECRET")
		if secret == "" {
			log.Fatal("HPL_LAUNCH_TOKEN_SECRET is required for -sign")
		}
		tok, err := identity.SignLaunchToken(secret, *sign, *collection, time.Now().Add(*ttl))
		if err != nil {
			log.Fatalf("sign error: %v", err)
		}
		fmt.Println(tok)
		return
	}

	baseURL := os.Getenv("HPL_API_BASE_URL")
	if baseURL == "" {
		log.Fatal("HPL_API_BASE_URL is required")
	}
	client := hplapi.NewClient(baseURL, hplapi.WithTimeout(8*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	creds, err := client.CreateGuest(ctx, os.Getenv("HPL_LAUNCH_TOKEN"))
	if err != nil {
		log.Fatalf("create guest error: %v", err)
	}
	log.Printf("guest ok: id=%s expires=%s token_len=%d", creds.GuestID, creds.ExpiresAt.Format(time.RFC3339), len(creds.AccessToken))

	if *launch == "" {
		log.Println("-launch not set; skipping launch check")
		return
	}
	id, ok := domain.ParseMinigameID(*launch)
	if !ok {
		log.Fatalf("unknown minigame %q", *launch)
	}
	collectionID := *collection
	if collectionID == "" {
		collectionID = "hplcheck"
	}
	sessionID, err := client.Launch(ctx, collectionID, id, creds.AccessToken)
	if err != nil {
		log.Fatalf("launch error: %v", err)
	}
	log.Printf("launch ok: minigame=%s session=%s", id, sessionID)

	st, err := client.GetSession(ctx, sessionID, creds.AccessToken)
	if err != nil {
		log.Printf("session lookup error: %v", err)
		return
	}
	log.Printf("session state=%s", st.State)
}
