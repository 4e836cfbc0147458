package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"

	"github.com/ezquant/azrl/azrl/download"
	"github.com/ezquant/azrl/azrl/plus/models"
	"github.com/ezquant/azrl/examples/training"
)

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "eg. ./user_data/config.yml",
	Value:   "config.yml",
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app := &cli.App{
		Name:     "azrl",
		HelpName: "azrl",
		Usage:    "Train and test a reinforcement learning trading agent",
		Commands: []*cli.Command{
			{
				Name:     "train",
				HelpName: "train",
				Usage:    "Train a policy over the training period",
				Flags: []cli.Flag{
					configFlag,
					&cli.BoolFlag{
						Name:    "test",
						Aliases: []string{"t"},
						Usage:   "run the testing period after training",
					},
					&cli.StringFlag{
						Name:  "log-level",
						Usage: "eg. debug",
					},
				},
				Action: func(c *cli.Context) error {
					config, err := loadConfig(c)
					if err != nil {
						return err
					}
					_, err = training.Train(c.Context, config, c.Bool("test"))
					return err
				},
			},
			{
				Name:     "test",
				HelpName: "test",
				Usage:    "Walk the saved policy over the testing period",
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{
						Name:  "log-level",
						Usage: "eg. debug",
					},
				},
				Action: func(c *cli.Context) error {
					config, err := loadConfig(c)
					if err != nil {
						return err
					}
					_, err = training.Test(c.Context, config)
					return err
				},
			},
			{
				Name:     "download",
				HelpName: "download",
				Usage:    "Download daily price history",
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{
						Name:    "symbols",
						Aliases: []string{"s"},
						Usage:   "eg. AAPL,MSFT (default: the configured stocks)",
					},
				},
				Action: func(c *cli.Context) error {
					config, err := models.LoadConfig(c.String("config"))
					if err != nil {
						return err
					}
					timeout, err := config.DownloadTimeout()
					if err != nil {
						return err
					}

					options := []download.Option{download.WithRetries(config.Download.Retries)}
					if timeout > 0 {
						options = append(options, download.WithTimeout(timeout))
					}
					downloader, err := download.New(config.Download.URLTemplate, config.Download.Directory, options...)
					if err != nil {
						return err
					}

					symbols := config.Symbols()
					if v := c.String("symbols"); v != "" {
						symbols = strings.Split(v, ",")
					}
					feeds, err := downloader.DownloadAll(c.Context, symbols)
					if err != nil {
						return err
					}
					for _, feed := range feeds {
						fmt.Printf("%s -> %s\n", feed.Symbol, feed.File)
					}
					return nil
				},
			},
			{
				Name:     "checkpoints",
				HelpName: "checkpoints",
				Usage:    "List the saved policies",
				Flags:    []cli.Flag{configFlag},
				Action: func(c *cli.Context) error {
					config, err := loadConfig(c)
					if err != nil {
						return err
					}
					checkpoints, err := training.Checkpoints(config)
					if err != nil {
						return err
					}

					table := tablewriter.NewWriter(os.Stdout)
					table.SetHeader([]string{"Prefix", "Run", "Timestep", "Episode", "Saved at"})
					for _, checkpoint := range checkpoints {
						table.Append([]string{
							checkpoint.Prefix,
							checkpoint.RunID,
							strconv.Itoa(checkpoint.Timestep),
							strconv.Itoa(checkpoint.Episode),
							checkpoint.SavedAt.Format("2006-01-02 15:04"),
						})
					}
					table.Render()
					return nil
				},
			},
			{
				Name:     "config",
				HelpName: "config",
				Usage:    "Write the effective configuration to a file",
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{
						Name:     "output",
						Aliases:  []string{"o"},
						Usage:    "eg. ./config.yml",
						Required: true,
					},
				},
				Action: func(c *cli.Context) error {
					config, err := models.LoadConfig(c.String("config"))
					if err != nil {
						return err
					}
					return config.Save(c.String("output"))
				},
			},
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadConfig(c *cli.Context) (*models.Config, error) {
	config, err := models.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("cannot read config file: %w", err)
	}
	if level := c.String("log-level"); level != "" {
		config.LogLevel = level
	}
	return config, nil
}
