package main

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/gocql/gocql"
	"github.com/gocql/gocql/hostpolicy"
	"github.com/hailocab/go-hostpool"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/scylladb/go-set/strset"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nikola-chen/cormstream/cql"
	"github.com/nikola-chen/cormstream/engine"
	"github.com/nikola-chen/cormstream/internal/metrics"
	"github.com/nikola-chen/cormstream/streaming"
)

type queryOptions struct {
	driver      string
	dsn         string
	fetchSize   int
	noStream    bool
	logLevel    string
	logSQL      bool
	slowQuery   time.Duration
	metricsAddr string
	hosts       []string
	keyspace    string
	consistency string
	hostPolicy  string
	timeout     time.Duration
}

func newQueryCmd() *cobra.Command {
	var opts queryOptions
	cmd := &cobra.Command{
		Use:   "query SQL [ARGS...]",
		Short: "Run a query and write one JSON object per row to stdout",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd.Context(), cmd.OutOrStdout(), opts, args[0], args[1:])
		},
	}

	cmd.Flags().StringVarP(&opts.driver, "driver", "d", "", "Driver name: mysql, postgres or cql")
	cmd.Flags().StringVarP(&opts.dsn, "dsn", "", "", "Data source name for SQL drivers")
	cmd.Flags().IntVarP(&opts.fetchSize, "fetch-size", "n", 0, "Rows per fetch; 0 keeps the dialect default")
	cmd.Flags().BoolVarP(&opts.noStream, "no-stream", "", false, "Leave the driver's fetch behaviour untouched")
	cmd.Flags().StringVarP(&opts.logLevel, "log-level", "", "info", "Log level: debug, info, warn or error")
	cmd.Flags().BoolVarP(&opts.logSQL, "log-sql", "", false, "Log every executed query")
	cmd.Flags().DurationVarP(&opts.slowQuery, "slow-query", "", 0, "Warn about queries slower than this")
	cmd.Flags().StringVarP(&opts.metricsAddr, "metrics-addr", "", "", "Serve Prometheus metrics on this address")
	cmd.Flags().StringSliceVarP(&opts.hosts, "hosts", "", []string{"127.0.0.1"}, "CQL contact points")
	cmd.Flags().StringVarP(&opts.keyspace, "keyspace", "k", "", "CQL keyspace")
	cmd.Flags().StringVarP(&opts.consistency, "consistency", "", "LOCAL_ONE", "CQL read consistency")
	cmd.Flags().StringVarP(&opts.hostPolicy, "host-selection-policy", "", "token-aware",
		"CQL host selection policy: round-robin, host-pool or token-aware")
	cmd.Flags().DurationVarP(&opts.timeout, "timeout", "", 10*time.Second, "CQL request timeout")
	_ = cmd.MarkFlagRequired("driver")
	return cmd
}

func runQuery(ctx context.Context, out io.Writer, opts queryOptions, query string, rawArgs []string) error {
	logger := engine.NewLogger(opts.logLevel)
	defer func() { _ = logger.Sync() }()

	args := make([]any, len(rawArgs))
	for i, a := range rawArgs {
		args[i] = a
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	if opts.metricsAddr != "" {
		g.Go(func() error {
			logger.Info("serving metrics", zap.String("addr", opts.metricsAddr))
			return metrics.Serve(gctx, opts.metricsAddr)
		})
	}
	g.Go(func() error {
		defer cancel()
		if opts.driver == cql.Dialect {
			return queryCQL(gctx, out, logger, opts, query, args)
		}
		return querySQL(gctx, out, logger, opts, query, args)
	})
	return g.Wait()
}

func querySQL(ctx context.Context, out io.Writer, logger *zap.Logger, opts queryOptions, query string, args []any) error {
	if opts.dsn == "" {
		return errors.New("--dsn is required for SQL drivers")
	}
	db, err := engine.Open(opts.driver, opts.dsn,
		engine.WithLogger(logger),
		engine.WithConfig(engine.Config{
			FetchSize:        opts.fetchSize,
			DisableStreaming: opts.noStream,
			LogSQL:           opts.logSQL,
			SlowQuery:        opts.slowQuery,
		}),
	)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	n, err := streamSQL(ctx, db, out, query, args...)
	logger.Info("done", zap.Int64("rows", n))
	return err
}

// streamSQL writes every row of query as a JSON object and returns the
// number of rows written.
func streamSQL(ctx context.Context, db *engine.Engine, out io.Writer, query string, args ...any) (int64, error) {
	rows, err := db.Stream(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	defer func() { _ = rows.Close() }()

	enc := json.NewEncoder(out)
	for rows.Next() {
		row := map[string]any{}
		if err := rows.ScanInto(&row); err != nil {
			return rows.Count(), err
		}
		if err := enc.Encode(jsonRow(row)); err != nil {
			return rows.Count(), errors.Wrap(err, "write row")
		}
	}
	return rows.Count(), rows.Err()
}

func queryCQL(ctx context.Context, out io.Writer, logger *zap.Logger, opts queryOptions, query string, args []any) error {
	hosts := contactPoints(opts.hosts)
	if len(hosts) == 0 {
		return errors.New("--hosts is required for cql")
	}
	consistency, err := gocql.ParseConsistencyWrapper(opts.consistency)
	if err != nil {
		return err
	}
	policy, err := hostSelectionPolicy(opts.hostPolicy, hosts)
	if err != nil {
		return err
	}

	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = opts.keyspace
	cluster.Consistency = consistency
	cluster.PoolConfig.HostSelectionPolicy = policy
	cluster.Timeout = opts.timeout
	cluster.ConnectTimeout = opts.timeout
	cluster.Logger = zap.NewStdLog(logger.Named("gocql"))
	session, err := cluster.CreateSession()
	if err != nil {
		return errors.Wrapf(err, "connect to %s", strings.Join(hosts, ","))
	}
	defer session.Close()

	var configurator streaming.Configurator
	if opts.noStream {
		configurator = streaming.NoOp{}
	}
	sess := cql.NewSession(session)
	stmt := streaming.Prepare(sess, query, args...)
	stmt.SetFetchSize(opts.fetchSize)

	rows, err := cql.NewExecutor(configurator, logger).Stream(ctx, sess, stmt)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	enc := json.NewEncoder(out)
	for rows.Next() {
		if err := enc.Encode(jsonRow(rows.Map())); err != nil {
			return errors.Wrap(err, "write row")
		}
	}
	logger.Info("done", zap.Int64("rows", rows.Count()), zap.Int("pages", rows.Pages()))
	return rows.Err()
}

// jsonRow turns byte slices into strings so rows encode as text.
func jsonRow(row map[string]any) map[string]any {
	for k, v := range row {
		if b, ok := v.([]byte); ok {
			row[k] = string(b)
		}
	}
	return row
}

// contactPoints trims and deduplicates hosts, keeping their order.
func contactPoints(hosts []string) []string {
	seen := strset.NewWithSize(len(hosts))
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		h = strings.TrimSpace(h)
		if h == "" || seen.Has(h) {
			continue
		}
		seen.Add(h)
		out = append(out, h)
	}
	return out
}

func hostSelectionPolicy(policy string, hosts []string) (gocql.HostSelectionPolicy, error) {
	switch policy {
	case "round-robin":
		return gocql.RoundRobinHostPolicy(), nil
	case "host-pool":
		return hostpolicy.HostPool(hostpool.New(hosts)), nil
	case "token-aware":
		return gocql.TokenAwareHostPolicy(gocql.RoundRobinHostPolicy()), nil
	default:
		return nil, errors.Errorf("unknown host selection policy %q", policy)
	}
}
