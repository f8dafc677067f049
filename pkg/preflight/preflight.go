// Package preflight checks the workstation prerequisites for provisioning the
// CDC infrastructure. Gathering facts and judging them are separate steps so
// the judgement can be tested without az or terraform installed.
package preflight

import (
	"strings"

	gojson "github.com/goccy/go-json"
	"github.com/spf13/viper"
)

// Probe is the outcome of running one external command
type Probe struct {
	Installed bool
	TimedOut  bool
	ExitOK    bool
	Output    string
}

// Snapshot is everything the checks look at
type Snapshot struct {
	Azure     Probe
	Terraform Probe
	// TFVarsPath is where terraform.tfvars was looked for
	TFVarsPath  string
	TFVarsFound bool
	TFVars      string
}

// CheckResult is the verdict of one check
type CheckResult struct {
	Name    string   `json:"name" yaml:"name"`
	Passed  bool     `json:"passed" yaml:"passed"`
	Message string   `json:"message" yaml:"message"`
	Hints   []string `json:"hints,omitempty" yaml:"hints,omitempty"`
}

// AuraVariables must be set in terraform.tfvars
var AuraVariables = []string{"aura_client_id", "aura_client_secret", "aura_tenant_id"}

// Evaluate judges a snapshot. It has no side effects.
func Evaluate(s Snapshot) []CheckResult {
	return []CheckResult{
		checkAzure(s.Azure),
		checkTerraform(s.Terraform),
		checkTFVars(s),
	}
}

// AllPassed reports whether every result passed
func AllPassed(results []CheckResult) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

func checkAzure(p Probe) CheckResult {
	r := CheckResult{Name: "azure-cli"}
	account := strings.TrimSpace(p.Output)
	switch {
	case !p.Installed:
		r.Message = "Azure CLI not installed"
		r.Hints = []string{"Install from: https://learn.microsoft.com/cli/azure/install-azure-cli"}
	case p.TimedOut:
		r.Message = "Azure CLI timed out"
	case !p.ExitOK || account == "":
		r.Message = "Azure CLI not authenticated"
		r.Hints = []string{"Run: az login"}
	default:
		r.Passed = true
		r.Message = "Azure CLI authenticated (Account: " + account + ")"
	}
	return r
}

type terraformVersion struct {
	Version string `json:"terraform_version"`
}

func checkTerraform(p Probe) CheckResult {
	r := CheckResult{Name: "terraform"}
	switch {
	case !p.Installed:
		r.Message = "Terraform not installed"
		r.Hints = []string{"Install from: https://developer.hashicorp.com/terraform/install"}
	case p.TimedOut:
		r.Message = "Terraform timed out"
	case !p.ExitOK:
		r.Message = "Terraform not working properly"
	default:
		r.Passed = true
		r.Message = "Terraform installed (version " + TerraformVersion(p.Output) + ")"
	}
	return r
}

// TerraformVersion extracts terraform_version from `terraform version -json`
// output, or "unknown".
func TerraformVersion(output string) string {
	var v terraformVersion
	if err := gojson.Unmarshal([]byte(output), &v); err != nil || v.Version == "" {
		return "unknown"
	}
	return v.Version
}

func checkTFVars(s Snapshot) CheckResult {
	r := CheckResult{Name: "terraform-config"}
	if !s.TFVarsFound {
		r.Message = "terraform/terraform.tfvars not found"
		r.Hints = []string{
			"Copy template: cp terraform/terraform.tfvars.example terraform/terraform.tfvars",
			"Then edit and add your Aura API credentials",
		}
		return r
	}

	values, err := ParseTFVars(s.TFVars)
	if err != nil {
		r.Message = "terraform.tfvars could not be parsed: " + err.Error()
		r.Hints = []string{"Check the file with: terraform -chdir=terraform validate"}
		return r
	}

	var missing, placeholder []string
	for _, name := range AuraVariables {
		v, ok := values[name]
		switch {
		case !ok:
			missing = append(missing, name)
		case isPlaceholder(v):
			placeholder = append(placeholder, name)
		}
	}

	switch {
	case len(missing) > 0:
		r.Message = "Missing variables in terraform.tfvars: " + strings.Join(missing, ", ")
	case len(placeholder) > 0:
		r.Message = "Aura credentials appear to be placeholder values: " + strings.Join(placeholder, ", ")
		r.Hints = []string{
			"Edit terraform/terraform.tfvars and set actual values",
			"Get credentials from: https://console.neo4j.io → Account → API Keys",
		}
	default:
		r.Passed = true
		r.Message = "terraform.tfvars found with Aura credentials"
	}
	return r
}

func isPlaceholder(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "" || strings.HasPrefix(v, "your-") || strings.Contains(v, "changeme")
}

// ParseTFVars decodes terraform.tfvars content into its top-level settings.
// Names are lower-cased. Blocks and lists decode to an empty string.
func ParseTFVars(content string) (map[string]string, error) {
	v := viper.New()
	v.SetConfigType("tfvars")
	if err := v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, err
	}

	out := make(map[string]string)
	for name := range v.AllSettings() {
		out[name] = v.GetString(name)
	}
	return out, nil
}
