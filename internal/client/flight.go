// Package client publishes computed matrices to a Longbow server over Apache
// Arrow Flight.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/23skdu/longbow-quiver/internal/compute"
	"github.com/23skdu/longbow-quiver/internal/export"
)

// ErrCircuitOpen is returned by Publish while the breaker rejects requests.
var ErrCircuitOpen = errors.New("client: circuit open")

// FlightClient handles communication with a Longbow server via Apache Flight.
type FlightClient struct {
	client flight.Client
	conn   *grpc.ClientConn
}

// NewFlightClient creates a new Flight client connected to the given address.
func NewFlightClient(addr string) (*FlightClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}

	return &FlightClient{
		client: flight.NewClientFromConn(conn, nil),
		conn:   conn,
	}, nil
}

// DoPut sends a RecordBatch to the given dataset on the Longbow server.
func (c *FlightClient) DoPut(ctx context.Context, dataset string, record arrow.RecordBatch) error {
	stream, err := c.client.DoPut(ctx)
	if err != nil {
		return err
	}

	writer := flight.NewRecordWriter(stream, ipc.WithSchema(record.Schema()))
	// The descriptor rides on the first message of the stream.
	writer.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: []string{dataset},
	})

	if err := writer.Write(record); err != nil {
		_ = writer.Close()
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	// Drain acknowledgements until the server ends the call.
	for {
		if _, err := stream.Recv(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// Close closes the client connection.
func (c *FlightClient) Close() error {
	return c.conn.Close()
}

// Putter is the part of FlightClient a Publisher needs.
type Putter interface {
	DoPut(ctx context.Context, dataset string, record arrow.RecordBatch) error
}

// Publisher converts run results into Arrow records and sends them to a
// dataset, guarding the transport with a circuit breaker.
type Publisher struct {
	putter  Putter
	dataset string
	builder *export.RecordBuilder
	breaker *CircuitBreaker
	logger  zerolog.Logger
}

// NewPublisher creates a Publisher for dataset.
func NewPublisher(p Putter, dataset string, breaker *CircuitBreaker, logger zerolog.Logger) *Publisher {
	return &Publisher{
		putter:  p,
		dataset: dataset,
		builder: export.NewRecordBuilder(memory.NewGoAllocator()),
		breaker: breaker,
		logger:  logger.With().Str("dataset", dataset).Logger(),
	}
}

// Publish sends res.Matrix with the run id, kernel and completion flag in
// the schema metadata.
//
// The record is built before the breaker is consulted, so a result that
// cannot be encoded never takes the half-open probe slot.
func (p *Publisher) Publish(ctx context.Context, res *compute.Result) error {
	rec, err := p.builder.Build(res.Matrix, map[string]string{
		"run_id":    res.RunID.String(),
		"kernel":    res.Kernel,
		"completed": fmt.Sprint(res.Completed),
	})
	if err != nil {
		return err
	}
	defer rec.Release()

	if !p.breaker.Allow() {
		return ErrCircuitOpen
	}

	if err := p.putter.DoPut(ctx, p.dataset, rec); err != nil {
		p.breaker.Failure()
		p.logger.Warn().Err(err).Str("breaker", p.breaker.State().String()).Msg("Publish failed")
		return fmt.Errorf("publish %s: %w", res.RunID, err)
	}
	p.breaker.Success()
	p.logger.Debug().Str("run_id", res.RunID.String()).Int64("rows", rec.NumRows()).Msg("Published result")
	return nil
}
