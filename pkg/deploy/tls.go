package deploy

import (
	"context"
	"fmt"
	"strings"

	"github.com/illumination-k/forgectl/pkg/deployerr"
	"github.com/illumination-k/forgectl/pkg/helm"
	"gopkg.in/yaml.v3"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

const (
	certManagerNamespace = "cert-manager"
	certManagerManifest  = "https://github.com/cert-manager/cert-manager/releases/download/v1.14.0/cert-manager.yaml"

	acmeProductionServer = "https://acme-v02.api.letsencrypt.org/directory"
	acmeStagingServer    = "https://acme-staging-v02.api.letsencrypt.org/directory"
)

var clusterIssuerGVR = schema.GroupVersionResource{Group: "cert-manager.io", Version: "v1", Resource: "clusterissuers"}

const clusterIssuerTemplate = `apiVersion: cert-manager.io/v1
kind: ClusterIssuer
metadata:
  name: %[1]s
spec:
  acme:
    server: %[2]s
    email: %[3]q
    privateKeySecretRef:
      name: %[1]s-account-key
    solvers:
    - http01:
        ingress:
          class: %[4]s
`

// clusterIssuer renders the Let's Encrypt ClusterIssuer as an unstructured object
func clusterIssuer(email string, staging bool, ingressClass string) (*unstructured.Unstructured, error) {
	server := acmeProductionServer
	if staging {
		server = acmeStagingServer
	}

	manifest := fmt.Sprintf(clusterIssuerTemplate, helm.IssuerName(staging), server, email, ingressClass)

	var obj map[string]interface{}
	if err := yaml.Unmarshal([]byte(manifest), &obj); err != nil {
		return nil, fmt.Errorf("failed to render ClusterIssuer: %w", err)
	}
	return &unstructured.Unstructured{Object: obj}, nil
}

// SetupTLS installs a Let's Encrypt ClusterIssuer for cert-manager
func (o *Orchestrator) SetupTLS(ctx context.Context, email string, staging bool) error {
	if strings.TrimSpace(email) == "" {
		return deployerr.New("Email is required for Let's Encrypt registration",
			"Use: forgectl deploy setup-tls --email admin@example.com")
	}

	fmt.Fprintln(o.Out, "⏳ Checking cert-manager installation...")
	pods, err := o.Cluster.ListPods(ctx, certManagerNamespace, "")
	if err != nil || len(pods) == 0 {
		return deployerr.New("cert-manager is not installed",
			"Install cert-manager first:\n  kubectl apply -f "+certManagerManifest)
	}
	fmt.Fprintln(o.Out, "✓ cert-manager is installed")

	issuerName := helm.IssuerName(staging)
	if staging {
		fmt.Fprintln(o.Out, "⚠️  Using Let's Encrypt staging server (for testing)")
	} else {
		fmt.Fprintln(o.Out, "🔐 Using Let's Encrypt production server")
	}

	issuer, err := clusterIssuer(email, staging, o.Constants.IngressClassName)
	if err != nil {
		return err
	}

	fmt.Fprintf(o.Out, "⏳ Creating ClusterIssuer '%s'...\n", issuerName)
	if err := o.Cluster.ApplyClusterResource(ctx, clusterIssuerGVR, issuer); err != nil {
		return deployerr.Wrap(err, "Failed to create ClusterIssuer",
			"Check that the cert-manager CRDs are installed:\n  kubectl get crd clusterissuers.cert-manager.io")
	}
	fmt.Fprintf(o.Out, "✓ ClusterIssuer '%s' created\n", issuerName)

	fmt.Fprintln(o.Out, "\nNext Steps:")
	fmt.Fprintln(o.Out, "  1. Deploy with Ingress and automatic TLS:")
	if staging {
		fmt.Fprintln(o.Out, "     forgectl deploy up --ingress --ingress-host api.example.com --ingress-tls-auto --ingress-tls-staging")
	} else {
		fmt.Fprintln(o.Out, "     forgectl deploy up --ingress --ingress-host api.example.com --ingress-tls-auto")
	}
	fmt.Fprintf(o.Out, "  2. The Ingress is annotated with cert-manager.io/cluster-issuer: %s\n", issuerName)
	fmt.Fprintln(o.Out, "  3. cert-manager will provision the certificate automatically")
	if staging {
		fmt.Fprintln(o.Out, "\n⚠️  Staging certificates are not trusted by browsers.")
	}
	return nil
}
