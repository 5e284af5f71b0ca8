// Command brightchain is a local single-node CLI over the content-addressed
// block store: it can whiten and wrap a file into a CBL, resolve a magnet
// link back into bytes, send and list gossip-delivered messages.
package main

import (
	"crypto/rand"
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Digital-Defiance/brightchain-core/core"
	"github.com/Digital-Defiance/brightchain-core/pkg/config"
	"github.com/Digital-Defiance/brightchain-core/pkg/utils"
)

var (
	log  = logrus.New()
	node *core.Node
	once sync.Once
)

func bootstrap(cmd *cobra.Command, _ []string) error {
	var initErr error
	once.Do(func() {
		cfg, err := config.LoadFromEnv()
		if err != nil {
			initErr = utils.Wrap(err, "load config")
			return
		}

		kr := core.NewKeyring([]byte(utils.EnvOrDefault("BRIGHTCHAIN_KEYRING_PASSPHRASE", "dev-only-passphrase")), cfg.Crypto.MaxAccessRate)
		if err := kr.Load(); err != nil {
			initErr = utils.Wrap(err, "load keyring")
			return
		}
		key, keyErr := kr.Get("self-key")
		id, idErr := kr.Get("self-id")
		if keyErr != nil || idErr != nil {
			key = make([]byte, 32)
			if _, err := rand.Read(key); err != nil {
				initErr = utils.Wrap(err, "generate identity key")
				return
			}
			id = core.GenerateMemberID(cfg.Identity.IDSize)
			if err := kr.Put("self-key", key); err != nil {
				initErr = utils.Wrap(err, "store identity key")
				return
			}
			if err := kr.Put("self-id", id); err != nil {
				initErr = utils.Wrap(err, "store identity id")
				return
			}
			if err := kr.Save(); err != nil {
				initErr = utils.Wrap(err, "save keyring")
				return
			}
		}

		address := utils.EnvOrDefault("BRIGHTCHAIN_ADDRESS", cfg.Messaging.NodeID)
		identity := core.NewHMACIdentity(id, address, key)

		n, err := core.NewNode(core.NodeConfig{
			Identity:      identity,
			Sizes:         core.DefaultBlockSizes(),
			BlockSize:     cfg.Block.SmallSize,
			TupleSize:     cfg.Whitening.DefaultTuple,
			TupleMinSize:  cfg.Whitening.TupleMinSize,
			TupleMaxSize:  cfg.Whitening.TupleMaxSize,
			Durability:    core.DurabilityLevel(cfg.Durability.Default),
			ParityLevel:   cfg.Durability.HighDurabilityParity,
			IDSize:        cfg.Identity.IDSize,
			MaxReferences: cfg.Messaging.MaxReferencesCount,
		})
		if err != nil {
			initErr = utils.Wrap(err, "bootstrap node")
			return
		}
		node = n
		log.WithField("address", address).Info("brightchain node ready")
	})
	return initErr
}

func main() {
	root := &cobra.Command{
		Use:               "brightchain",
		Short:             "Content-addressed block store and messaging node",
		PersistentPreRunE: bootstrap,
	}
	root.AddCommand(putCmd(), getCmd(), sendCmd(), inboxCmd())
	if err := root.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func putCmd() *cobra.Command {
	var blockSize int
	var tupleSize int
	var durability string
	cmd := &cobra.Command{
		Use:   "put <file>",
		Short: "whiten and wrap a file into a CBL, printing its magnet link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return utils.Wrap(err, "read file")
			}
			opts := core.AssembleOptions{
				Sizes:        core.DefaultBlockSizes(),
				BlockSize:    blockSize,
				TupleSize:    tupleSize,
				TupleMinSize: 3,
				TupleMaxSize: 5,
				Durability:   core.DurabilityLevel(durability),
				Creator:      node.Identity,
				IDSize:       len(node.Identity.ID()),
				Encryption:   core.EncryptionNone,
				FileName:     args[0],
			}
			_, magnet, err := core.AssembleCBL(data, opts, node.Store)
			if err != nil {
				return utils.Wrap(err, "assemble CBL")
			}
			fmt.Fprintln(cmd.OutOrStdout(), magnet)
			return nil
		},
	}
	cmd.Flags().IntVar(&blockSize, "block-size", 4096, "block size in bytes")
	cmd.Flags().IntVar(&tupleSize, "tuple-size", 3, "whitening tuple size")
	cmd.Flags().StringVar(&durability, "durability", string(core.DurabilityEphemeral), "ephemeral|standard|high_durability")
	return cmd
}

func getCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "get <magnet>",
		Short: "resolve a magnet link back into bytes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			handle, err := core.ParseMagnetURL(args[0])
			if err != nil {
				return utils.Wrap(err, "parse magnet")
			}
			data, err := core.RetrieveCBL(handle, node.Store, core.DefaultBlockSizes(), len(node.Identity.ID()), node.Identity.VerifyHeader, 3, 5)
			if err != nil {
				return utils.Wrap(err, "retrieve CBL")
			}
			if out == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			return os.WriteFile(out, data, 0o644)
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "write to file instead of stdout")
	return cmd
}

func sendCmd() *cobra.Command {
	var to, subject, body string
	cmd := &cobra.Command{
		Use:   "send",
		Short: "compose and gossip-publish a message",
		RunE: func(cmd *cobra.Command, args []string) error {
			input := core.EmailInput{
				From:       core.Address{Email: node.Identity.Address()},
				Recipients: core.RecipientList{To: []core.Address{{Email: to}}},
				Subject:    subject,
				Body:       []byte(body),
			}
			result, err := node.Messages.SendMessage(input, node.Identity)
			if err != nil {
				return utils.Wrap(err, "send message")
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.SenderCopy.MessageID)
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "recipient address")
	cmd.Flags().StringVar(&subject, "subject", "", "message subject")
	cmd.Flags().StringVar(&body, "body", "", "message body")
	cmd.MarkFlagRequired("to")
	return cmd
}

func inboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "list messages delivered to this node's address",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, rec := range node.Delivery.Inbox(node.Identity.Address()) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", rec.MessageID, rec.Subject)
			}
			return nil
		},
	}
	return cmd
}
