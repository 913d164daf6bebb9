package main

import (
	"fmt"
	"time"

	"livechat-backend/internal/bootstrap"
	internaljwt "livechat-backend/internal/jwt"
	"livechat-backend/internal/model"

	"github.com/spf13/cobra"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Manage agent roles",
}

var agentsPutCmd = &cobra.Command{
	Use:   "put",
	Short: "Create or replace an agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, _ := cmd.Flags().GetString("id")
		username, _ := cmd.Flags().GetString("username")
		email, _ := cmd.Flags().GetString("email")
		role, _ := cmd.Flags().GetString("role")
		disabled, _ := cmd.Flags().GetBool("disabled")

		switch model.AgentRole(role) {
		case model.AgentRoleAdmin, model.AgentRoleManager, model.AgentRoleAgent:
		default:
			return fmt.Errorf("unknown role %q", role)
		}

		d, err := loadDeps(ctx)
		if err != nil {
			return err
		}
		defer d.close()

		agent := model.AgentItem{
			UserID:    id,
			Username:  username,
			Email:     email,
			Role:      model.AgentRole(role),
			CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
		}
		if disabled {
			agent.Status = model.AgentStatusDisabled
		}
		if err := d.repo.PutAgent(ctx, agent); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "agent %s saved as %s\n", id, role)
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue agent tokens for testing",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Print a signed agent token",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		username, _ := cmd.Flags().GetString("username")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		// Signing needs only the secret, not the store.
		cfg, _ := bootstrap.Init("livechat-admin")
		signer := internaljwt.NewSigner(cfg.UserSecret)
		token, err := signer.CreateToken(internaljwt.Agent{Id: id, Username: username}, internaljwt.RoleAgent, time.Now().Add(ttl).Unix())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	agentsPutCmd.Flags().String("id", "", "Agent user id")
	agentsPutCmd.Flags().String("username", "", "Agent username")
	agentsPutCmd.Flags().String("email", "", "Agent email")
	agentsPutCmd.Flags().String("role", string(model.AgentRoleAgent), "admin, livechat-manager or livechat-agent")
	agentsPutCmd.Flags().Bool("disabled", false, "Store the agent as disabled")
	agentsPutCmd.MarkFlagRequired("id")
	agentsCmd.AddCommand(agentsPutCmd)

	tokenIssueCmd.Flags().String("id", "", "Agent user id")
	tokenIssueCmd.Flags().String("username", "", "Agent username")
	tokenIssueCmd.Flags().Duration("ttl", internaljwt.DefaultTokenTTL, "Token lifetime")
	tokenIssueCmd.MarkFlagRequired("id")
	tokenCmd.AddCommand(tokenIssueCmd)
}
