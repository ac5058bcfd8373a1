package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/storefront/cartsync/internal/application/reconcile"
	"github.com/storefront/cartsync/internal/domain/cart"
	"github.com/storefront/cartsync/internal/domain/wishlist"
)

type stateView struct {
	State    reconcile.State   `json:"state"`
	Cart     cart.Snapshot     `json:"cart"`
	Wishlist wishlist.Snapshot `json:"wishlist"`
}

func printState(opts *rootOptions, engine *reconcile.Engine) error {
	view := stateView{
		State:    engine.State(),
		Cart:     engine.EffectiveCart(),
		Wishlist: engine.EffectiveWishlist(),
	}
	if opts.jsonOutput {
		return writeJSON(opts, view)
	}

	fmt.Fprintf(opts.out, "state: %s\n", view.State)
	if err := printCart(opts, view.Cart); err != nil {
		return err
	}
	if len(view.Wishlist.Items) > 0 {
		fmt.Fprintf(opts.out, "wishlist (%d):\n", len(view.Wishlist.Items))
		for _, item := range view.Wishlist.Items {
			if item.VariantKey == "" {
				fmt.Fprintf(opts.out, "  %s\n", item.ProductID)
			} else {
				fmt.Fprintf(opts.out, "  %s/%s\n", item.ProductID, item.VariantKey)
			}
		}
	}
	return nil
}

func printCart(opts *rootOptions, snap cart.Snapshot) error {
	if opts.jsonOutput {
		return writeJSON(opts, snap)
	}
	fmt.Fprintf(opts.out, "cart: %s, %d items (revision %d)\n", snap.Source, snap.TotalQuantity(), snap.Revision)
	if snap.IsEmpty() {
		return nil
	}
	tw := tabwriter.NewWriter(opts.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  PRODUCT\tVARIANT\tQTY")
	for _, item := range snap.Items {
		variant := item.VariantKey
		if variant == "" {
			variant = "-"
		}
		fmt.Fprintf(tw, "  %s\t%s\t%d\n", item.ProductID, variant, item.Quantity)
	}
	return tw.Flush()
}

func printLocal(opts *rootOptions, tokenPresent bool, guest []cart.LineItem) error {
	snap := cart.Snapshot{Source: cart.SourceGuest, Items: guest}
	if opts.jsonOutput {
		return writeJSON(opts, struct {
			SignedIn bool            `json:"signed_in"`
			Guest    []cart.LineItem `json:"guest_cart"`
		}{tokenPresent, guest})
	}
	fmt.Fprintf(opts.out, "credential stored: %t\n", tokenPresent)
	return printCart(opts, snap)
}

func writeJSON(opts *rootOptions, v any) error {
	enc := json.NewEncoder(opts.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
