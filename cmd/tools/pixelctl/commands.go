package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	kmodel "github.com/zhouzirui/knowledge-portal/backend/internal/model/knowledge"
	"github.com/zhouzirui/knowledge-portal/backend/internal/pixel"
	"github.com/zhouzirui/knowledge-portal/backend/internal/service/ai"
	"github.com/zhouzirui/knowledge-portal/backend/internal/service/chat"
	"github.com/zhouzirui/knowledge-portal/backend/internal/service/documents"
	"github.com/zhouzirui/knowledge-portal/backend/internal/service/knowledge"
	"github.com/zhouzirui/knowledge-portal/backend/internal/service/rag"
)

// runCmd sends a raw pixel expression.
var runCmd = &cobra.Command{
	Use:   "run <pixel>",
	Short: "Run a raw pixel expression and print its output",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		res, err := gw.Run(ctx, args[0])
		if err != nil {
			return err
		}
		if err := res.Err("pixel failed"); err != nil {
			return err
		}
		return printJSON(cmd, res.Output)
	},
}

var enginesCmd = &cobra.Command{
	Use:       "engines [model|vector|storage]",
	Short:     "List the engines visible to the configured token",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"model", "vector", "storage"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		catalog := newCatalog()
		if len(args) == 0 {
			engines, err := catalog.LoadAll(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, engines)
		}

		handles, err := catalog.Engines(ctx, pixel.EngineType(strings.ToUpper(args[0])))
		if err != nil {
			return err
		}
		return printJSON(cmd, handles)
	},
}

// documentsCmd groups the vector store document operations.
var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "List, upload or delete documents in a vector store",
}

var documentsListCmd = &cobra.Command{
	Use:   "list <vector-id>",
	Short: "List document names",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		ws, err := newWorkspace(args[0], "")
		if err != nil {
			return err
		}
		names, err := newDocuments().List(ctx, ws)
		if err != nil {
			return err
		}
		return printJSON(cmd, names)
	},
}

var documentsUploadCmd = &cobra.Command{
	Use:   "upload <vector-id> <file>",
	Short: "Upload and embed a PDF or CSV file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		f, err := os.Open(args[1])
		if err != nil {
			return err
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return err
		}

		ws, err := newWorkspace(args[0], "")
		if err != nil {
			return err
		}
		names, err := newDocuments().Upload(ctx, ws, documents.File{
			Name: filepath.Base(args[1]),
			Size: info.Size(),
			Body: f,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, names)
	},
}

var documentsDeleteCmd = &cobra.Command{
	Use:   "delete <vector-id> <name>",
	Short: "Remove a document and print the remaining names",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		ws, err := newWorkspace(args[0], "")
		if err != nil {
			return err
		}
		names, err := newDocuments().Delete(ctx, ws, args[1])
		if err != nil {
			return err
		}
		return printJSON(cmd, names)
	},
}

var (
	askModel       string
	askVector      string
	askLimit       int
	askTemperature float64
)

// askCmd runs one full retrieval and generation round.
var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question the way the chat page does",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		ws, err := newWorkspace(askVector, askModel)
		if err != nil {
			return err
		}
		ws.Knowledge.SetResultLimit(askLimit)
		if _, err := ws.Knowledge.SetTemperature(askTemperature); err != nil {
			return err
		}

		gen, err := ai.NewService(ctx, ai.NewGatewayChatModel(gw, logger.Named("llm")), ai.WithLogger(logger))
		if err != nil {
			return err
		}
		orch := rag.New(gw, gen, newDocuments(), logger.Named("rag"))

		msg, err := orch.Ask(ctx, ws, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), msg.Content)
		for _, c := range ws.Citations() {
			fmt.Fprintln(cmd.OutOrStdout(), "  source:", c.Link)
		}
		if banner := ws.ErrorMessage(); banner != "" {
			return fmt.Errorf("%s", banner)
		}
		return nil
	},
}

func init() {
	documentsCmd.AddCommand(documentsListCmd, documentsUploadCmd, documentsDeleteCmd)

	askCmd.Flags().StringVar(&askModel, "model", "", "model engine id (required)")
	askCmd.Flags().StringVar(&askVector, "vector", "", "vector store id; empty skips retrieval")
	askCmd.Flags().IntVar(&askLimit, "limit", kmodel.DefaultResultLimit, "snippets to retrieve")
	askCmd.Flags().Float64Var(&askTemperature, "temperature", kmodel.DefaultTemperature, "sampling temperature")
	_ = askCmd.MarkFlagRequired("model")
}

func newCatalog() *knowledge.Catalog {
	return knowledge.NewCatalog(gw, knowledge.Config{
		DefaultModelID:   cfg.Knowledge.DefaultModelID,
		DefaultStorageID: cfg.Knowledge.DefaultStorageID,
		EmbedderEngineID: cfg.Knowledge.EmbedderEngineID,
	}, logger.Named("catalog"))
}

func newDocuments() *documents.Manager {
	return documents.NewManager(gw, cfg.Knowledge.MaxUploadBytes, logger.Named("documents"))
}

// newWorkspace builds a throwaway session with the given selections.
func newWorkspace(vectorID, modelID string) (*chat.Workspace, error) {
	params := kmodel.QueryParameters{ResultLimit: cfg.Knowledge.ResultLimit, Temperature: cfg.Knowledge.Temperature}
	ws, err := chat.NewService(params, logger).CreateSession(rootCmd.Context())
	if err != nil {
		return nil, err
	}
	if vectorID != "" {
		ws.Knowledge.SelectVectorStore(&kmodel.Handle{ID: vectorID, DisplayName: vectorID, Type: pixel.EngineVector})
	}
	if modelID != "" {
		ws.Knowledge.SelectModel(&kmodel.Handle{ID: modelID, DisplayName: modelID, Type: pixel.EngineModel})
	}
	return ws, nil
}
