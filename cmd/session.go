package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/tanq16/velodown/internal/output"
	"github.com/tanq16/velodown/internal/scheduler"
	"github.com/tanq16/velodown/internal/store"
	"github.com/tanq16/velodown/internal/utils"
)

// openStore builds the state backend selected by --store. The returned
// function releases backend connections.
func openStore(ctx context.Context) (store.Store, func(), error) {
	switch strings.ToLower(storeKind) {
	case "", "file":
		return store.NewFileStore(statePath), func() {}, nil
	case "s3":
		if s3Bucket == "" {
			return nil, nil, fmt.Errorf("--s3-bucket is required for the s3 store")
		}
		st, err := store.NewS3StoreFromProfile(ctx, s3Profile, s3Bucket, s3Key)
		if err != nil {
			return nil, nil, err
		}
		return st, func() {}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: redisAddr})
		return store.NewRedisStore(client, redisKey), func() { client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q (use file, s3 or redis)", storeKind)
	}
}

// openScheduler loads the saved registry into a new scheduler. The returned
// function pauses whatever is still running and writes the final state.
func openScheduler(ctx context.Context, observer scheduler.Observer, notifier scheduler.Notifier) (*scheduler.Scheduler, func(), error) {
	st, release, err := openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	sched := scheduler.New(scheduler.Options{
		Store:    st,
		Observer: observer,
		Notifier: notifier,
		Client:   utils.NewVeloHTTPClient(clientConfig()),
	})
	// a failed load is logged by the scheduler, which continues with defaults
	sched.Load(ctx)
	return sched, func() {
		sched.Close()
		release()
	}, nil
}

// withScheduler runs a short, non-transferring operation against the saved
// registry and exits non-zero when it fails.
func withScheduler(fn func(ctx context.Context, sched *scheduler.Scheduler) error) {
	ctx := context.Background()
	sched, closeFn, err := openScheduler(ctx, nil, nil)
	if err != nil {
		output.PrintError(err.Error())
		os.Exit(1)
	}
	err = fn(ctx, sched)
	closeFn()
	if err != nil {
		output.PrintError(err.Error())
		os.Exit(1)
	}
}

// runDownloads attaches the live display, lets enqueue add or start tasks and
// blocks until every task settles. Ctrl-C leaves unfinished tasks Paused so a
// later resume continues from the partial files.
func runDownloads(enqueue func(ctx context.Context, sched *scheduler.Scheduler) []error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logFile, err := os.OpenFile(utils.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err == nil {
		utils.SetLogOutput(logFile)
		defer logFile.Close()
	}
	manager := output.NewManager()
	sched, closeFn, err := openScheduler(ctx, manager, manager)
	if err != nil {
		utils.InitLogger(debug)
		output.PrintError(err.Error())
		os.Exit(1)
	}
	manager.StartDisplay()
	problems := enqueue(ctx, sched)
	interrupted := sched.Wait(ctx) != nil
	closeFn()
	manager.StopDisplay()
	utils.InitLogger(debug)
	log := utils.GetLogger("cli")

	for _, err := range problems {
		output.PrintError(err.Error())
	}
	_, failed, paused, _ := manager.Summary()
	if interrupted {
		log.Info().Int("paused", paused).Msg("Interrupted, unfinished downloads paused")
	}
	if failed > 0 || len(problems) > 0 {
		os.Exit(1)
	}
}

// addRequest maps a link and an optional output path to an add request. An
// output path naming a directory only picks the save folder.
func addRequest(link, outputPath string) utils.AddRequest {
	req := utils.AddRequest{URL: link}
	if outputPath == "" {
		return req
	}
	abs, err := filepath.Abs(outputPath)
	if err != nil {
		abs = outputPath
	}
	info, statErr := os.Stat(abs)
	if (statErr == nil && info.IsDir()) || strings.HasSuffix(outputPath, string(os.PathSeparator)) {
		req.SavePath = abs
		return req
	}
	req.SavePath = filepath.Dir(abs)
	req.FileName = filepath.Base(abs)
	return req
}

// addAll adds the requests in order and starts them when AutoStart is off.
func addAll(ctx context.Context, sched *scheduler.Scheduler, reqs []utils.AddRequest) []error {
	var problems []error
	autoStart := sched.Settings().AutoStart
	for _, req := range reqs {
		task, err := sched.AddTask(ctx, req)
		if err != nil {
			problems = append(problems, fmt.Errorf("%s: %w", req.URL, err))
			continue
		}
		if !autoStart {
			if err := sched.Start(task.ID); err != nil {
				problems = append(problems, fmt.Errorf("%s: %w", req.URL, err))
			}
		}
	}
	return problems
}
