package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/ariefcatur/storefront-orders/internal/client"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "ordersctl",
		Usage: "admin tool for the order API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "api",
				Value:   "http://localhost:8081",
				Usage:   "order API base URL",
				EnvVars: []string{"ORDERSCTL_API"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "orders",
				Usage: "list every order, newest first",
				Action: func(c *cli.Context) error {
					list, err := api(c).ListAllOrders()
					if err != nil {
						return err
					}
					return printJSON(list)
				},
			},
			{
				Name:      "account-orders",
				Usage:     "list one account's orders",
				ArgsUsage: "ACCOUNT",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("usage: account-orders ACCOUNT", 2)
					}
					list, err := api(c).ListAccountOrders(c.Args().First())
					if err != nil {
						return err
					}
					return printJSON(list)
				},
			},
			{
				Name:      "status",
				Usage:     "move an order from its previous status to a new one",
				ArgsUsage: "ACCOUNT/ORDER PREVIOUS NEXT",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "payment", Usage: "also set the payment method"},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() != 3 {
						return cli.Exit("usage: status ACCOUNT/ORDER PREVIOUS NEXT", 2)
					}
					ref, err := parseRef(c.Args().Get(0))
					if err != nil {
						return err
					}
					out, err := api(c).SetStatus(ref, orders.Status(c.Args().Get(2)), orders.Status(c.Args().Get(1)), c.String("payment"))
					if err != nil {
						return err
					}
					return printJSON(out)
				},
			},
			{
				Name:      "deliver",
				Usage:     "mark an order delivered (or back to pending with --undo)",
				ArgsUsage: "ACCOUNT/ORDER",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "undo", Usage: "uncheck delivered"},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("usage: deliver ACCOUNT/ORDER", 2)
					}
					ref, err := parseRef(c.Args().First())
					if err != nil {
						return err
					}
					out, err := api(c).SetDelivered(ref, !c.Bool("undo"))
					if err != nil {
						return err
					}
					return printJSON(out)
				},
			},
			{
				Name:      "bulk-deliver",
				Usage:     "toggle delivered on many orders at once",
				ArgsUsage: "ACCOUNT/ORDER...",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "undo", Usage: "uncheck delivered"},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() == 0 {
						return cli.Exit("usage: bulk-deliver ACCOUNT/ORDER...", 2)
					}
					refs := make([]orders.Ref, 0, c.NArg())
					for _, a := range c.Args().Slice() {
						ref, err := parseRef(a)
						if err != nil {
							return err
						}
						refs = append(refs, ref)
					}
					out, err := api(c).BulkSetDelivered(refs, !c.Bool("undo"))
					if perr := printJSON(out); perr != nil {
						return perr
					}
					return err
				},
			},
			{
				Name:      "delete",
				Usage:     "delete an order (stock is not restored)",
				ArgsUsage: "ACCOUNT/ORDER",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("usage: delete ACCOUNT/ORDER", 2)
					}
					ref, err := parseRef(c.Args().First())
					if err != nil {
						return err
					}
					return api(c).Delete(ref)
				},
			},
			{
				Name:      "payment",
				Usage:     "change an order's payment method without touching status or stock",
				ArgsUsage: "ACCOUNT/ORDER METHOD",
				Action: func(c *cli.Context) error {
					if c.NArg() != 2 {
						return cli.Exit("usage: payment ACCOUNT/ORDER METHOD", 2)
					}
					ref, err := parseRef(c.Args().Get(0))
					if err != nil {
						return err
					}
					o, err := api(c).UpdatePaymentMethod(ref, c.Args().Get(1))
					if err != nil {
						return err
					}
					return printJSON(o)
				},
			},
			{
				Name:      "restock",
				Usage:     "add stock for a product (pass -- before a negative delta)",
				ArgsUsage: "PRODUCT DELTA",
				Action: func(c *cli.Context) error {
					if c.NArg() != 2 {
						return cli.Exit("usage: restock PRODUCT DELTA", 2)
					}
					delta, err := strconv.Atoi(c.Args().Get(1))
					if err != nil {
						return fmt.Errorf("delta: %w", err)
					}
					stock, err := api(c).AdjustStock(c.Args().Get(0), delta)
					if err != nil {
						return err
					}
					return printJSON(map[string]any{"id": c.Args().Get(0), "stock": stock})
				},
			},
			{
				Name:  "products",
				Usage: "list products with their stock",
				Action: func(c *cli.Context) error {
					ps, err := api(c).Products()
					if err != nil {
						return err
					}
					return printJSON(ps)
				},
			},
			{
				Name:  "out-of-stock",
				Usage: "list product ids at or below zero stock",
				Action: func(c *cli.Context) error {
					ids, err := api(c).OutOfStock()
					if err != nil {
						return err
					}
					return printJSON(ids)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func api(c *cli.Context) *client.Client { return client.New(c.String("api")) }

func parseRef(s string) (orders.Ref, error) {
	acct, id, ok := strings.Cut(s, "/")
	if !ok || acct == "" || id == "" {
		return orders.Ref{}, fmt.Errorf("order must be ACCOUNT/ORDER, got %q", s)
	}
	return orders.Ref{AccountID: acct, OrderID: id}, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
