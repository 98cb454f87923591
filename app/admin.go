package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/google/uuid"

	"github.com/umputun/gatekeeper/app/auth"
	"github.com/umputun/gatekeeper/app/store"
)

// commands below print results to stdout, out is overridden in tests
var out io.Writer = os.Stdout

// KeyCmd groups api key subcommands
type KeyCmd struct {
	Create KeyCreateCmd `command:"create" description:"issue a new api key for an account"`
	List   KeyListCmd   `command:"list" description:"list keys of an account"`
	Revoke KeyRevokeCmd `command:"revoke" description:"revoke a key"`
}

// KeyCreateCmd issues a key, the account is created or updated on the way
type KeyCreateCmd struct {
	SharedOptions

	Account  string   `long:"account" required:"true" description:"owner account (user) id"`
	Tenant   string   `long:"tenant" required:"true" description:"tenant id of the account"`
	Email    string   `long:"email" description:"account email, used for audit"`
	Role     string   `long:"role" description:"role granted by the key"`
	Scopes   []string `long:"scope" description:"scope granted by the key, repeatable"`
	Label    string   `long:"label" description:"human readable label"`
	Password string   `long:"password" env:"GATEKEEPER_KEY_PASSWORD" required:"true" description:"password paired with the key"`
}

// Execute creates the key and prints it, the key is never shown again
func (c *KeyCreateCmd) Execute(_ []string) error {
	st, err := c.openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	ctx := context.Background()

	if err := st.UpsertAccount(ctx, store.Account{ID: c.Account, TenantID: c.Tenant, Email: c.Email}); err != nil {
		return err
	}

	key, err := auth.GenerateKey()
	if err != nil {
		return err
	}
	hash, err := auth.HashSecret(c.Password)
	if err != nil {
		return err
	}

	rec := store.KeyRecord{ID: uuid.NewString(), UserID: c.Account, Role: c.Role, Scopes: c.Scopes, SecretHash: hash,
		Label: c.Label}
	if err := st.CreateKey(ctx, auth.KeyDigest(key), rec); err != nil {
		return err
	}
	log.Printf("[INFO] created key %s for account %s", rec.ID, c.Account)
	_, _ = fmt.Fprintf(out, "id: %s\nkey: %s\n", rec.ID, key)
	return nil
}

// KeyListCmd lists keys of an account
type KeyListCmd struct {
	SharedOptions

	Account string `long:"account" required:"true" description:"owner account (user) id"`
}

// Execute prints one key per line, secrets are never shown
func (c *KeyListCmd) Execute(_ []string) error {
	st, err := c.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	keys, err := st.ListKeys(context.Background(), c.Account)
	if err != nil {
		return err
	}
	for _, k := range keys {
		status := "active"
		if !k.Active {
			status = "revoked"
		}
		_, _ = fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%s\n", k.ID, status, k.Role, strings.Join(k.Scopes, ","), k.Label)
	}
	return nil
}

// KeyRevokeCmd revokes a key by id
type KeyRevokeCmd struct {
	SharedOptions

	ID string `long:"id" required:"true" description:"key id"`
}

// Execute revokes the key
func (c *KeyRevokeCmd) Execute(_ []string) error {
	st, err := c.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.RevokeKey(context.Background(), c.ID); err != nil {
		return err
	}
	log.Printf("[INFO] revoked key %s", c.ID)
	return nil
}

// AccountCmd groups account subcommands
type AccountCmd struct {
	Status AccountStatusCmd `command:"status" description:"suspend, delete or restore an account"`
}

// AccountStatusCmd sets status flags of an account, keys of a suspended or deleted account stop working
type AccountStatusCmd struct {
	SharedOptions

	ID        string `long:"id" required:"true" description:"account id"`
	Suspended bool   `long:"suspended" description:"account is suspended"`
	Deleted   bool   `long:"deleted" description:"account is deleted"`
}

// Execute updates the account
func (c *AccountStatusCmd) Execute(_ []string) error {
	st, err := c.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.SetAccountStatus(context.Background(), c.ID, c.Suspended, c.Deleted); err != nil {
		return err
	}
	log.Printf("[INFO] account %s status suspended=%v, deleted=%v", c.ID, c.Suspended, c.Deleted)
	return nil
}

// PolicyCmd groups resource policy subcommands
type PolicyCmd struct {
	Set    PolicySetCmd    `command:"set" description:"set policy of a resource"`
	Delete PolicyDeleteCmd `command:"delete" description:"delete policy of a resource"`
	List   PolicyListCmd   `command:"list" description:"list resource policies"`
}

// PolicySetCmd creates or replaces a resource policy
type PolicySetCmd struct {
	SharedOptions

	Resource    string   `long:"resource" required:"true" description:"resource name"`
	Profile     string   `long:"profile" description:"auth profile: JWT_ONLY, APIKEY_ONLY, EITHER, JWT_AND_APIKEY"`
	RequireHMAC bool     `long:"hmac" description:"require signed request"`
	IPAllowlist []string `long:"allow" description:"allowed CIDR or address, repeatable"`
}

// Execute validates and stores the policy
func (c *PolicySetCmd) Execute(_ []string) error {
	if c.Profile != "" && !auth.AuthProfile(c.Profile).Known() {
		return fmt.Errorf("unknown auth profile %q", c.Profile)
	}
	if _, err := auth.ParsePrefixes(c.IPAllowlist); err != nil {
		return err
	}

	st, err := c.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	rec := store.PolicyRecord{Resource: c.Resource, AuthProfile: c.Profile, RequireHMAC: c.RequireHMAC,
		IPAllowlist: c.IPAllowlist}
	if err := st.SetPolicy(context.Background(), rec); err != nil {
		return err
	}
	log.Printf("[INFO] policy set for %s, profile=%q, hmac=%v, allowlist=%v", c.Resource, c.Profile,
		c.RequireHMAC, c.IPAllowlist)
	return nil
}

// PolicyDeleteCmd removes a resource policy
type PolicyDeleteCmd struct {
	SharedOptions

	Resource string `long:"resource" required:"true" description:"resource name"`
}

// Execute deletes the policy
func (c *PolicyDeleteCmd) Execute(_ []string) error {
	st, err := c.openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	return st.DeletePolicy(context.Background(), c.Resource)
}

// PolicyListCmd prints all policies
type PolicyListCmd struct {
	SharedOptions
}

// Execute prints one policy per line
func (c *PolicyListCmd) Execute(_ []string) error {
	st, err := c.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	policies, err := st.ListPolicies(context.Background())
	if err != nil {
		return err
	}
	for _, p := range policies {
		profile := p.AuthProfile
		if profile == "" {
			profile = string(auth.ProfileEither) + " (default)"
		}
		_, _ = fmt.Fprintf(out, "%s\t%s\thmac=%v\t%s\n", p.Resource, profile, p.RequireHMAC,
			strings.Join(p.IPAllowlist, ","))
	}
	return nil
}

// FlagCmd groups persisted flag subcommands
type FlagCmd struct {
	Set  FlagSetCmd  `command:"set" description:"set a persisted flag"`
	List FlagListCmd `command:"list" description:"list persisted flags"`
}

// FlagSetCmd sets a persisted flag
type FlagSetCmd struct {
	SharedOptions

	Name    string `long:"name" default:"scoped_auth" description:"flag name"`
	Enabled bool   `long:"enabled" description:"flag value"`
}

// Execute stores the flag, running servers pick it up after their flag cache ttl
func (c *FlagSetCmd) Execute(_ []string) error {
	st, err := c.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.SetFlag(context.Background(), c.Name, c.Enabled); err != nil {
		return err
	}
	log.Printf("[INFO] flag %s set to %v", c.Name, c.Enabled)
	return nil
}

// FlagListCmd prints all persisted flags
type FlagListCmd struct {
	SharedOptions
}

// Execute prints one flag per line
func (c *FlagListCmd) Execute(_ []string) error {
	st, err := c.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	flags, err := st.ListFlags(context.Background())
	if err != nil {
		return err
	}
	names := make([]string, 0, len(flags))
	for name := range flags {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		_, _ = fmt.Fprintf(out, "%s\t%v\n", name, flags[name])
	}
	return nil
}

// TokenCmd mints HS256 tokens, for development and testing only
type TokenCmd struct {
	Secret   string        `long:"secret" env:"GATEKEEPER_TOKEN_SECRET" required:"true" description:"shared secret"`
	Issuer   string        `long:"issuer" env:"GATEKEEPER_TOKEN_ISSUER" description:"token issuer"`
	Audience string        `long:"audience" env:"GATEKEEPER_TOKEN_AUDIENCE" description:"token audience"`
	TTL      time.Duration `long:"ttl" default:"1h" description:"token lifetime"`
	Subject  string        `long:"sub" required:"true" description:"user id"`
	Tenant   string        `long:"tenant" required:"true" description:"tenant id"`
	Role     string        `long:"role" description:"role"`
	Scopes   []string      `long:"scope" description:"scope, repeatable"`
}

// Execute prints the signed token
func (c *TokenCmd) Execute(_ []string) error {
	ti, err := auth.NewTokenIssuer([]byte(c.Secret), c.Issuer, c.Audience, c.TTL)
	if err != nil {
		return err
	}
	token, err := ti.Issue(auth.TokenClaims{Subject: c.Subject, TenantID: c.Tenant, Role: c.Role, Scopes: c.Scopes})
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(out, token)
	return nil
}
