package server

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestGRPCHealth(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv := NewGRPCServer(0, "secret")
	require.NoError(t, srv.Start(ctx))
	defer srv.Stop(ctx)
	require.NotZero(t, srv.Port())

	conn, err := grpc.NewClient("localhost:"+strconv.Itoa(srv.Port()), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client := healthpb.NewHealthClient(conn)

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	srv.SetServing(false)
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)
}

func TestGRPCAuthorize(t *testing.T) {
	srv := NewGRPCServer(0, "secret")

	assert.NoError(t, srv.authorize(context.Background(), "/grpc.health.v1.Health/Check"))

	err := srv.authorize(context.Background(), "/grpc.reflection.v1.ServerReflection/ServerReflectionInfo")
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-api-key", "secret"))
	assert.NoError(t, srv.authorize(ctx, "/grpc.reflection.v1.ServerReflection/ServerReflectionInfo"))

	open := NewGRPCServer(0, "")
	assert.NoError(t, open.authorize(context.Background(), "/anything"))
}
