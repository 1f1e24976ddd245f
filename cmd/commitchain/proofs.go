package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/colorfulnotion/commitchain/bimodal"
	"github.com/colorfulnotion/commitchain/common"
	"github.com/colorfulnotion/commitchain/merkle"
	"github.com/colorfulnotion/commitchain/types"
	"github.com/spf13/cobra"
)

// ProofFile is what prove writes and verify reads.
type ProofFile struct {
	Root    common.Hash          `json:"root"`
	Account common.Address       `json:"account"`
	Proof   bimodal.BalanceProof `json:"proof"`
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func newProveCmd() *cobra.Command {
	var leavesPath, account, hashType string
	var eon uint64
	var printTree bool
	cmd := &cobra.Command{
		Use:   "prove",
		Short: "Build an eon's tree from a JSON leaf list and prove one account",
		RunE: func(cmd *cobra.Command, args []string) error {
			var leaves []types.Leaf
			if err := readJSON(leavesPath, &leaves); err != nil {
				return err
			}
			h, err := merkle.NewHasher(merkle.HashType(hashType))
			if err != nil {
				return err
			}
			tree, err := bimodal.Build(h, leaves)
			if err != nil {
				return err
			}
			if printTree {
				fmt.Fprintln(cmd.ErrOrStderr(), tree.Print(eon))
			}
			out := ProofFile{Root: tree.Root(), Account: common.HexToAddress(account)}
			if out.Proof, err = tree.Prove(out.Account); err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&leavesPath, "leaves", "", "JSON file with the eon's leaves")
	cmd.Flags().StringVar(&account, "account", "", "Account to prove")
	cmd.Flags().StringVar(&hashType, "hash", string(merkle.Keccak), "keccak or blake2b")
	cmd.Flags().Uint64Var(&eon, "eon", 0, "Eon label for --tree")
	cmd.Flags().BoolVar(&printTree, "tree", false, "Print the tree to stderr")
	cmd.MarkFlagRequired("leaves")
	cmd.MarkFlagRequired("account")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	var hashType, root string
	cmd := &cobra.Command{
		Use:   "verify <proof.json>",
		Short: "Verify a balance proof and print the proven leaf",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var pf ProofFile
			if err := readJSON(args[0], &pf); err != nil {
				return err
			}
			if root != "" {
				pf.Root = common.HexToHash(root)
			}
			h, err := merkle.NewHasher(merkle.HashType(hashType))
			if err != nil {
				return err
			}
			leaf, err := pf.Proof.Verify(merkle.NewVerifier(h), pf.Root, pf.Account)
			if err != nil {
				return err
			}
			kind := "included"
			if pf.Proof.Exclusion != nil {
				kind = "absent"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%sok%s %s %s in %s: %s\n", common.ColorGreen, common.ColorReset, pf.Account.Hex(), kind, pf.Root.Hex(), leaf.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&hashType, "hash", string(merkle.Keccak), "keccak or blake2b")
	cmd.Flags().StringVar(&root, "root", "", "Root to check against (default: the root in the file)")
	return cmd
}
