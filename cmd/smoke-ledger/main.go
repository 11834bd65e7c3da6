package main

import (
	"context"
	"flag"
	"os"
	"time"

	"rotasave.org/internal/ids"
	"rotasave.org/internal/ledger"
	"rotasave.org/internal/ledger/remote"
	"rotasave.org/internal/obs"
	"rotasave.org/internal/rosca"
	"rotasave.org/internal/store/memory"
)

// smoke-ledger runs a two-member rotation against a remote ledger and checks
// that funds are conserved.
func main() {
	addr := flag.String("addr", os.Getenv("ROTASAVE_LEDGER_ADDR"), "ledger gRPC address")
	currency := flag.String("currency", rosca.DefaultCurrency, "ledger currency")
	flag.Parse()
	if *addr == "" {
		*addr = "localhost:9091"
	}

	logger, err := obs.SetupLogging(os.Stderr, "text", "info")
	if err != nil {
		os.Exit(2)
	}
	fail := func(msg string, args ...any) {
		logger.Error(msg, args...)
		os.Exit(1)
	}

	client, err := remote.Dial(*addr)
	if err != nil {
		fail("dial ledger", "addr", *addr, "error", err)
	}
	defer client.Close()
	svc := remote.NewService(client)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const amount = 420
	run := ids.New()
	members := []string{"smoke-" + run + "-a", "smoke-" + run + "-b"}
	for _, m := range members {
		if _, err := svc.OpenAccount(ctx, m, ledger.Money{Currency: *currency, Amount: 2 * amount}); err != nil {
			fail("open account", "account", m, "error", err)
		}
	}

	eng := rosca.NewEngine(memory.New(),
		rosca.WithTransferer(ledger.NewPayments(svc)),
		rosca.WithCurrency(*currency),
		rosca.WithLogger(logger),
	)
	now := time.Now().Unix()
	// A time-derived id keeps pool accounts apart across runs.
	gid := uint64(time.Now().UnixNano())
	if err := eng.CreateGroupWithID(ctx, gid, rosca.Principal(members[0]), amount, 60, 2, now); err != nil {
		fail("create group", "error", err)
	}
	if err := eng.JoinGroup(ctx, gid, rosca.Principal(members[1])); err != nil {
		fail("join group", "error", err)
	}
	for cycle := 0; cycle < 2; cycle++ {
		for _, m := range members {
			if _, err := eng.Contribute(ctx, gid, rosca.Principal(m), amount, now); err != nil {
				fail("contribute", "member", m, "cycle", cycle, "error", err)
			}
		}
		if _, err := eng.AdvanceCycle(ctx, gid, now); err != nil {
			fail("advance", "cycle", cycle, "error", err)
		}
	}

	for _, m := range members {
		bal, err := svc.GetBalance(ctx, m, *currency)
		if err != nil {
			fail("balance", "account", m, "error", err)
		}
		if bal.Amount != 2*amount {
			fail("ledger conservation failed", "account", m, "balance", bal.Amount)
		}
	}
	pool, err := svc.GetBalance(ctx, string(rosca.PoolAccount(gid)), *currency)
	if err != nil {
		fail("pool balance", "error", err)
	}
	if pool.Amount != 0 {
		fail("pool not drained", "balance", pool.Amount)
	}

	logger.Info("rotation smoke test passed", "addr", *addr, "group_id", gid, "members", members)
}
