package deploy

import (
	"context"
	"fmt"

	"github.com/illumination-k/forgectl/pkg/portforward"
)

// Forward holds a port-forward to target until ctx is cancelled
func (o *Orchestrator) Forward(ctx context.Context, target portforward.Target) error {
	if o.Forwards == nil {
		return fmt.Errorf("port forwarding is not configured")
	}

	return o.Forwards.With(ctx, target, func(h *portforward.Handle) error {
		key := h.Key()
		fmt.Fprintf(o.Out, "🔌 Forwarding %s -> %s/%s:%d\n", h.Address(), key.Namespace, key.PodName, key.RemotePort)
		fmt.Fprintln(o.Out, "Press Ctrl+C to stop")
		<-ctx.Done()
		fmt.Fprintln(o.Out, "\n✓ Port-forward stopped")
		return nil
	})
}
