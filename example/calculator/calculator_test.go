package calculator

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"mini-rpc/client"
	"mini-rpc/codec"
	"mini-rpc/message"
	"mini-rpc/middleware"
	"mini-rpc/server"
)

func startCalculator(t *testing.T, cdc codec.Codec) *client.Client {
	t.Helper()
	logger := zaptest.NewLogger(t)
	svr := server.NewServer(server.WithCodec(cdc), server.WithLogger(logger))
	svr.Use(middleware.RecoverMiddleware(logger))
	svr.Use(middleware.LoggingMiddleware(logger))
	require.NoError(t, svr.RegisterService(NewService(Calculator{})))

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go svr.ServeListener(l)
	t.Cleanup(func() { _ = svr.Shutdown(time.Second) })

	c, err := client.Dial(context.Background(), l.Addr().String(), client.WithCodec(cdc), client.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCalculatorEndToEnd(t *testing.T) {
	for _, ct := range []codec.CodecType{codec.CodecTypeJSON, codec.CodecTypeBinary, codec.CodecTypeGob} {
		t.Run(ct.String(), func(t *testing.T) {
			cdc, err := codec.GetCodec(ct)
			require.NoError(t, err)
			calc := NewClient(startCalculator(t, cdc))
			ctx := context.Background()

			sum, err := calc.Add(ctx, 10, 20)
			require.NoError(t, err)
			assert.Equal(t, 30, sum)

			diff, err := calc.Sub(ctx, 10, 20)
			require.NoError(t, err)
			assert.Equal(t, -10, diff)

			prod, err := calc.Mul(ctx, 6, 7)
			require.NoError(t, err)
			assert.Equal(t, 42, prod)

			total, err := calc.Sum(ctx, []int{1, 2, 3, 4})
			require.NoError(t, err)
			assert.Equal(t, 10, total)
		})
	}
}

func TestCalculatorDivideByZero(t *testing.T) {
	calc := NewClient(startCalculator(t, &codec.JSONCodec{}))

	_, err := calc.Div(context.Background(), 1, 0)
	var rerr *message.Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, message.CodeInvocationFailed, rerr.Code)
	assert.Contains(t, rerr.Message, ErrDivideByZero.Error())

	q, err := calc.Div(context.Background(), 9, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, q)
}

func TestCalculatorConcurrentCalls(t *testing.T) {
	c := startCalculator(t, &codec.BinaryCodec{})
	calc := NewClient(c)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			got, err := calc.Mul(context.Background(), n, 2)
			if assert.NoError(t, err) {
				assert.Equal(t, 2*n, got)
			}
		}(i)
	}
	wg.Wait()
	assert.Zero(t, c.Pending())
}

func TestBinary(t *testing.T) {
	calc := &Client{}
	assert.Nil(t, calc.Binary("pow"))
	assert.Nil(t, NewClient(nil).Binary("mod"))
	assert.NotNil(t, NewClient(nil).Binary("add"))
}
