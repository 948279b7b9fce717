//go:build integration

package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Neo4jPassword is the password of the container started by StartNeo4j.
const Neo4jPassword = "askdb-secret"

// StartNeo4j runs a Neo4j 5 server and returns its bolt URI.
func StartNeo4j(ctx context.Context) (string, Terminate, error) {
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "neo4j:5",
			ExposedPorts: []string{"7687/tcp"},
			Env:          map[string]string{"NEO4J_AUTH": "neo4j/" + Neo4jPassword},
			WaitingFor:   wait.ForLog("Started.").WithStartupTimeout(120 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return "", nil, fmt.Errorf("error starting neo4j container: %w", err)
	}

	host, err := c.Host(ctx)
	if err != nil {
		_ = c.Terminate(ctx)
		return "", nil, fmt.Errorf("error getting neo4j host: %w", err)
	}
	port, err := c.MappedPort(ctx, "7687/tcp")
	if err != nil {
		_ = c.Terminate(ctx)
		return "", nil, fmt.Errorf("error getting neo4j port: %w", err)
	}
	return fmt.Sprintf("bolt://%s:%s", host, port.Port()), c.Terminate, nil
}
