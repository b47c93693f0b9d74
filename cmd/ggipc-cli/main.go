package main

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/aws-greengrass/ggipc-go/arena"
	"github.com/aws-greengrass/ggipc-go/eventstream"
	"github.com/aws-greengrass/ggipc-go/ipc"
	"github.com/aws-greengrass/ggipc-go/internal/unixsocket"
)

// VERSION is injected by build flags.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "ggipc-cli"
	myApp.Usage = "Greengrass local IPC client"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "socket,s",
			Usage: "path to the Nucleus IPC domain socket (defaults to AWS_GG_NUCLEUS_DOMAIN_SOCKET_FILEPATH_FOR_COMPONENT)",
		},
		cli.StringFlag{
			Name:  "token,t",
			Usage: "component auth token (defaults to SVCUID)",
		},
		cli.StringFlag{
			Name:  "component",
			Usage: "component name to present in CONNECT, if not using a token",
		},
		cli.StringFlag{
			Name:  "log",
			Usage: "redirect log output to this file",
		},
		cli.IntFlag{
			Name:  "timeout",
			Value: 10,
			Usage: "response timeout in seconds",
		},
		cli.StringFlag{
			Name:  "c",
			Usage: "load a json config file, overriding the flags above",
		},
	}

	myApp.Commands = []cli.Command{
		{
			Name:  "get-config",
			Usage: "read a configuration value",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "for", Usage: "component whose config to read (default: self)"},
				cli.StringFlag{Name: "key", Usage: "dot-separated key path, e.g. a.b.c"},
			},
			Action: func(c *cli.Context) error {
				conn := mustConnect(c.Parent())
				defer conn.Close()

				keyPath := splitKeyPath(c.String("key"))
				a := arena.New(make([]byte, 65536))
				v, err := conn.GetConfiguration(c.String("for"), keyPath, a)
				checkError(err)

				encoded, err := eventstream.EncodeJSON(v)
				checkError(err)
				fmt.Println(string(encoded))
				return nil
			},
		},
		{
			Name:  "publish",
			Usage: "publish a binary payload to a local pub/sub topic",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "topic", Usage: "topic name"},
				cli.StringFlag{Name: "message", Usage: "message body"},
			},
			Action: func(c *cli.Context) error {
				conn := mustConnect(c.Parent())
				defer conn.Close()

				err := conn.PublishToTopicBinary(c.String("topic"), []byte(c.String("message")))
				checkError(err)
				log.Println("published")
				return nil
			},
		},
		{
			Name:  "subscribe",
			Usage: "subscribe to a local pub/sub topic and print events until interrupted",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "topic", Usage: "topic name"},
			},
			Action: func(c *cli.Context) error {
				conn := mustConnect(c.Parent())
				defer conn.Close()

				_, err := conn.SubscribeToTopic(c.String("topic"), func(ev ipc.SubscriptionEvent) {
					if ev.Err != nil {
						color.Red("subscription error: %v", ev.Err)
						return
					}
					if ev.IsBinary {
						fmt.Printf("%s\n", ev.Raw)
						return
					}
					encoded, err := eventstream.EncodeJSON(ev.Payload)
					if err != nil {
						color.Red("encode event: %v", err)
						return
					}
					fmt.Println(string(encoded))
				})
				checkError(err)

				<-conn.Done()
				return nil
			},
		},
	}

	if err := myApp.Run(os.Args); err != nil {
		checkError(err)
	}
}

func splitKeyPath(key string) []string {
	if key == "" {
		return nil
	}
	return strings.Split(key, ".")
}

func resolveConfig(c *cli.Context) Config {
	cfg := Config{
		SocketPath:    c.String("socket"),
		AuthToken:     c.String("token"),
		ComponentName: c.String("component"),
		Log:           c.String("log"),
		Timeout:       c.Int("timeout"),
	}
	if path := c.String("c"); path != "" {
		checkError(parseJSONConfig(&cfg, path))
	}
	if cfg.SocketPath == "" {
		if p, ok := unixsocket.EnvSocketPath(); ok {
			cfg.SocketPath = p
		}
	}
	if cfg.AuthToken == "" {
		if t, ok := unixsocket.EnvAuthToken(); ok {
			cfg.AuthToken = t
		}
	}
	return cfg
}

func mustConnect(c *cli.Context) *ipc.Connection {
	cfg := resolveConfig(c)

	if cfg.Log != "" {
		f, err := os.OpenFile(cfg.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		checkError(err)
		log.SetOutput(f)
	}
	if cfg.SocketPath == "" {
		checkError(errors.New("no socket path: pass -socket or set AWS_GG_NUCLEUS_DOMAIN_SOCKET_FILEPATH_FOR_COMPONENT"))
	}

	conn, err := ipc.Connect(cfg.SocketPath, ipc.ConnectOptions{
		ComponentName: cfg.ComponentName,
		AuthToken:     cfg.AuthToken,
	}, ipc.Config{
		ResponseTimeout: time.Duration(cfg.Timeout) * time.Second,
	})
	checkError(err)
	return conn
}

func checkError(err error) {
	if err != nil {
		color.Red("%+v", err)
		os.Exit(1)
	}
}
