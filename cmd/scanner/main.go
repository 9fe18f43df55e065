// The scanner is a standalone loop that keeps the video catalog in sync
// with the course roots on disk, for deployments that run the API without
// filesystem access.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gocql/gocql"

	"coursecast/internal/catalog"
	"coursecast/internal/db"
	"coursecast/pkg/logger"
)

func main() {
	log := logger.New("scanner")

	hosts := strings.Split(os.Getenv("SCYLLA_HOSTS"), ",")
	for i := range hosts {
		hosts[i] = strings.TrimSpace(hosts[i])
	}
	keyspace := env("SCYLLA_KEYSPACE", "coursecast")
	cluster := gocql.NewCluster(hosts...)
	cluster.Port = envInt("SCYLLA_PORT", 9042)
	cluster.Timeout = 5 * time.Second
	cluster.Consistency = parseConsistency(env("SCYLLA_CONSISTENCY", "QUORUM"))

	var session *gocql.Session

	// first connect without keyspace to ensure it exists
	for i := 0; i < 20; i++ {
		s, err := cluster.CreateSession()
		if err == nil {
			session = s
			break
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("scylla connect retry")
		time.Sleep(5 * time.Second)
	}
	if session == nil {
		log.Fatal().Msg("scylla connect: giving up")
	}
	if err := db.EnsureKeyspace(session, keyspace, envInt("SCYLLA_RF", 3)); err != nil {
		session.Close()
		log.Fatal().Err(err).Msg("ensure keyspace")
	}
	session.Close()

	// reconnect with keyspace
	cluster.Keyspace = keyspace
	for i := 0; i < 20; i++ {
		s, err := cluster.CreateSession()
		if err == nil {
			session = s
			break
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("scylla connect (with keyspace) retry")
		time.Sleep(5 * time.Second)
	}
	if session == nil {
		log.Fatal().Msg("scylla connect with keyspace: giving up")
	}
	defer session.Close()

	if err := db.EnsureSchema(session, keyspace); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}

	roots := []string{}
	for _, r := range strings.Split(env("COURSE_ROOTS", ""), ",") {
		if r = strings.TrimSpace(r); r != "" {
			roots = append(roots, r)
		}
	}
	svc := catalog.NewService(session, keyspace, log)
	interval := envDuration("SCAN_INTERVAL", 10*time.Minute)

	log.Info().Strs("roots", roots).Dur("interval", interval).Msg("scanner starting")
	for {
		if len(roots) == 0 {
			log.Warn().Msg("no course roots configured")
			time.Sleep(interval)
			continue
		}
		added, err := svc.ScanRoots(context.Background(), roots)
		if err != nil {
			log.Error().Err(err).Msg("scan error")
		} else {
			log.Info().Int("added", added).Msg("scan completed")
		}
		time.Sleep(interval)
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var out int
		if _, err := fmt.Sscanf(v, "%d", &out); err == nil {
			return out
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func parseConsistency(c string) gocql.Consistency {
	switch strings.ToUpper(c) {
	case "ONE":
		return gocql.One
	case "LOCAL_ONE":
		return gocql.LocalOne
	case "LOCAL_QUORUM":
		return gocql.LocalQuorum
	case "ALL":
		return gocql.All
	default:
		return gocql.Quorum
	}
}
