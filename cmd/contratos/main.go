// Command contratos is the CLI for the defense-contract corpus: ingestion,
// interactive chat, raw retrieval, and the MCP server.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/defensa-digital/contratos-rag/config"
	"github.com/defensa-digital/contratos-rag/engine"
	"github.com/defensa-digital/contratos-rag/mcpserver"
	"github.com/defensa-digital/contratos-rag/pipeline"
)

const version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:           "contratos",
	Short:         "RAG sobre contratos de defensa",
	Long:          "Indexa contratos de defensa en PDF y responde preguntas con citas, confianza y validación numérica.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// withEngine loads configuration, assembles the engine, and tears it down
// when fn returns. The context cancels on SIGINT/SIGTERM.
func withEngine(fn func(ctx context.Context, e *engine.Engine) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := engine.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.Close(context.Background())
	return fn(ctx, e)
}

var ingestDir string

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Reconstruye ambos índices desde los PDF (operación destructiva)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withEngine(func(ctx context.Context, e *engine.Engine) error {
			report, err := e.Ingest(ctx, ingestDir)
			if report != nil {
				cmd.Printf("Contratos indexados: %d\n", report.Contracts)
				cmd.Printf("Fragmentos: %d\n", report.Chunks)
				for _, f := range report.Failures {
					cmd.Printf("FALLO %s [%s]: %s\n", f.Filename, f.Stage, f.Reason)
				}
			}
			return err
		})
	},
}

var (
	retrieveK    int
	retrieveJSON bool
)

var retrieveCmd = &cobra.Command{
	Use:   "retrieve [consulta]",
	Short: "Búsqueda híbrida sin pipeline agéntico",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, e *engine.Engine) error {
			chunks, err := e.Retrieve(ctx, args[0], retrieveK)
			if err != nil {
				return err
			}
			if retrieveJSON {
				data, err := json.MarshalIndent(chunks, "", "  ")
				if err != nil {
					return err
				}
				cmd.Println(string(data))
				return nil
			}
			if len(chunks) == 0 {
				cmd.Println("Sin resultados.")
				return nil
			}
			for i, chunk := range chunks {
				cmd.Printf("[%d] %s · %s (rrf %.4f)\n%s\n\n", i+1, chunk.ContractID, chunk.Source(), chunk.RRFScore, chunk.Text)
			}
			return nil
		})
	},
}

var chatThread string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Conversación interactiva sobre el corpus",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withEngine(func(ctx context.Context, e *engine.Engine) error {
			thread := chatThread
			if thread == "" {
				thread = uuid.NewString()
			}
			cmd.Printf("Hilo %s. Escribe tu pregunta, \":reset\" para vaciar el hilo o \"salir\" para terminar.\n", thread)

			scanner := bufio.NewScanner(os.Stdin)
			scanner.Buffer(make([]byte, 64*1024), 64*1024)
			for {
				cmd.Print("> ")
				if !scanner.Scan() {
					return scanner.Err()
				}
				query := strings.TrimSpace(scanner.Text())
				switch {
				case query == "":
					continue
				case query == "salir" || query == "exit":
					return nil
				case query == ":reset":
					if err := e.ClearHistory(ctx, thread); err != nil {
						return err
					}
					cmd.Println("Hilo vaciado.")
					continue
				}

				answer, err := e.Chat(ctx, query, thread)
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					cmd.PrintErrf("error: %v\n", err)
					continue
				}
				printAnswer(cmd, answer)
			}
		})
	},
}

func printAnswer(cmd *cobra.Command, answer *pipeline.Answer) {
	cmd.Println()
	cmd.Println(answer.Text)
	if len(answer.Sources) > 0 {
		cmd.Println("\nFuentes:")
		for _, src := range answer.Sources {
			if len(src.Paginas) > 0 {
				cmd.Printf("- %s, páginas %s\n", src.Archivo, joinInts(src.Paginas))
			} else {
				cmd.Printf("- %s\n", src.Archivo)
			}
		}
	}
	cmd.Printf("\nConfianza: %.0f/100 · %s\n", answer.Confidence.Score, answer.Confidence.Recommendation)
	if !answer.Validation.Valid() {
		cmd.Println("AVISO: la respuesta no superó todas las validaciones.")
		for _, dato := range answer.Validation.UnverifiedData {
			cmd.Printf("  dato no verificado: %s\n", dato)
		}
	}
	cmd.Println()
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ", ")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Sirve el corpus por Model Context Protocol (stdio)",
	RunE: func(_ *cobra.Command, _ []string) error {
		return withEngine(func(ctx context.Context, e *engine.Engine) error {
			return mcpserver.New(e, version).Run(ctx)
		})
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestDir, "dir", "", "directorio con los PDF (por defecto DATA_ROOT/contracts)")
	retrieveCmd.Flags().IntVarP(&retrieveK, "k", "k", 5, "número máximo de fragmentos")
	retrieveCmd.Flags().BoolVar(&retrieveJSON, "json", false, "salida en JSON")
	chatCmd.Flags().StringVar(&chatThread, "hilo", "", "identificador de hilo (por defecto uno nuevo)")

	rootCmd.AddCommand(ingestCmd, retrieveCmd, chatCmd, mcpCmd)
}
