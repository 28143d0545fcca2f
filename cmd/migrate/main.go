package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/samirrijal/bilbotrack/internal/adapters/catalog"
	"github.com/samirrijal/bilbotrack/internal/adapters/postgres"
	"github.com/samirrijal/bilbotrack/internal/pkg/config"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: migrate <up|seed CATALOG.yaml>")
	}

	cfg, err := config.Load("bilbotrack-migrate")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()
	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	switch os.Args[1] {
	case "up":
		applied, err := db.Migrate(ctx)
		for _, name := range applied {
			fmt.Printf("OK  %s\n", name)
		}
		if err != nil {
			log.Fatalf("migrate: %v", err)
		}
		log.Println("all migrations applied")
	case "seed":
		if len(os.Args) < 3 {
			log.Fatal("usage: migrate seed CATALOG.yaml")
		}
		if err := seed(ctx, db, os.Args[2]); err != nil {
			log.Fatalf("seed: %v", err)
		}
	default:
		log.Fatalf("unknown command: %s", os.Args[1])
	}
}

// seed copies a YAML catalog into the routes and trips tables.
func seed(ctx context.Context, db *postgres.DB, path string) error {
	cat, err := catalog.Load(path)
	if err != nil {
		return err
	}
	routes := postgres.NewRouteRepo(db)
	trips := postgres.NewTripRepo(db)

	for _, rt := range cat.AllRoutes() {
		if err := routes.Upsert(ctx, &rt); err != nil {
			return fmt.Errorf("route %s: %w", rt.ID, err)
		}
		fmt.Printf("OK  route %s (%d waypoints)\n", rt.ID, len(rt.Waypoints))
	}
	for _, tr := range cat.AllTrips() {
		if err := trips.Upsert(ctx, &tr); err != nil {
			return fmt.Errorf("trip %s: %w", tr.ID, err)
		}
		fmt.Printf("OK  trip %s (%d bookings)\n", tr.ID, len(tr.Bookings))
	}
	return nil
}
