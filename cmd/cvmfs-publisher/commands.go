package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/infn-datacloud/cvmfs-publisher/internal/config"
	"github.com/infn-datacloud/cvmfs-publisher/internal/objectstore"
)

// task is one long running part of the process. It returns nil once ctx is
// cancelled.
type task func(ctx context.Context) error

func runTasks(ctx context.Context, a *app, tasks ...task) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range tasks {
		g.Go(func() error { return t(gctx) })
	}
	g.Go(func() error { return a.serveHTTP(gctx) })

	a.log.Info(ctx, "Started", "version", version)
	if err := g.Wait(); err != nil {
		return a.fail(ctx, "Publisher stopped", err)
	}
	a.log.Info(ctx, "Received shutdown signal")
	return nil
}

func newRunCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run queue consumers, the provisioner and the staging reconciler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath, config.ComponentConsumers|config.ComponentSync|config.ComponentProvisioner)
			if err != nil {
				return err
			}
			defer a.close()

			dialer, err := a.dialer()
			if err != nil {
				return a.fail(ctx, "Invalid broker TLS configuration", err)
			}
			if err := a.checkBroker(ctx, dialer); err != nil {
				return a.fail(ctx, "Cannot reach broker", err)
			}

			backend := a.backend()
			sup, err := a.supervisor(ctx, dialer)
			if err != nil {
				return a.fail(ctx, "Cannot set up queue consumers", err)
			}
			prov, err := a.provisioner(ctx, dialer, backend)
			if err != nil {
				return a.fail(ctx, "Cannot set up repository provisioning", err)
			}
			rec := a.reconciler(backend)

			return runTasks(ctx, a,
				sup.Run,
				rec.Run,
				func(ctx context.Context) error { return a.consumeLoop(ctx, prov, a.cfg.Broker.PublisherQueue) },
			)
		},
	}
}

func newConsumersCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "consumers",
		Short: "Stage object store notifications from every repository queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath, config.ComponentConsumers)
			if err != nil {
				return err
			}
			defer a.close()

			dialer, err := a.dialer()
			if err != nil {
				return a.fail(ctx, "Invalid broker TLS configuration", err)
			}
			if err := a.checkBroker(ctx, dialer); err != nil {
				return a.fail(ctx, "Cannot reach broker", err)
			}
			sup, err := a.supervisor(ctx, dialer)
			if err != nil {
				return a.fail(ctx, "Cannot set up queue consumers", err)
			}

			return runTasks(ctx, a, sup.Run)
		},
	}
}

func newSyncCommand(configPath *string) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Apply staged changes to the repositories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath, config.ComponentSync)
			if err != nil {
				return err
			}
			defer a.close()

			rec := a.reconciler(a.backend())
			if once {
				rec.Recover(ctx)
				rec.Sweep(ctx)
				return nil
			}
			return runTasks(ctx, a, rec.Run)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single sweep and exit")
	return cmd
}

func newProvisionerCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "provisioner",
		Short: "Create repositories requested on the publisher queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath, config.ComponentProvisioner)
			if err != nil {
				return err
			}
			defer a.close()

			dialer, err := a.dialer()
			if err != nil {
				return a.fail(ctx, "Invalid broker TLS configuration", err)
			}
			if err := a.checkBroker(ctx, dialer); err != nil {
				return a.fail(ctx, "Cannot reach broker", err)
			}
			prov, err := a.provisioner(ctx, dialer, a.backend())
			if err != nil {
				return a.fail(ctx, "Cannot set up repository provisioning", err)
			}

			return runTasks(ctx, a, func(ctx context.Context) error {
				return a.consumeLoop(ctx, prov, a.cfg.Broker.PublisherQueue)
			})
		},
	}
}

func newConfigureBucketCommand(configPath *string) *cobra.Command {
	var createTopic bool

	cmd := &cobra.Command{
		Use:   "configure-bucket <bucket>",
		Short: "Send the change notifications of a bucket to its repository topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			bucket := args[0]

			a, err := newApp(ctx, *configPath, config.ComponentBucketSetup)
			if err != nil {
				return err
			}
			defer a.close()

			awsCfg, err := objectstore.LoadAWSConfig(ctx, a.cfg.ObjectStore)
			if err != nil {
				return err
			}

			topicARN := a.cfg.ObjectStore.TopicARNPrefix + bucket
			if createTopic {
				registrar := objectstore.NewTopicRegistrar(awsCfg, a.cfg.ObjectStore.Endpoint, a.cfg.Broker, a.log)
				if topicARN, err = registrar.CreateTopic(ctx, bucket); err != nil {
					return err
				}
			}

			client := objectstore.NewS3Client(awsCfg, a.cfg.ObjectStore.Endpoint)
			prefix := strings.TrimSuffix(a.cfg.ObjectStore.KeyPrefix, "/")
			if err := objectstore.ConfigureBucketNotifications(ctx, client, bucket, topicARN, prefix); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "bucket %s notifies %s\n", bucket, topicARN)
			return nil
		},
	}
	cmd.Flags().BoolVar(&createTopic, "create-topic", false, "create the bucket topic before wiring the notification")
	return cmd
}
