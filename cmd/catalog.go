package cmd

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/andresmejia3/facemorph/internal/assets"
	"github.com/andresmejia3/facemorph/internal/store"
	"github.com/andresmejia3/facemorph/internal/utils"
	"github.com/spf13/cobra"
)

var (
	addProfile assets.Profile
	addImage   string
	addPoints  string
	resetYes   bool
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the average-face catalog database",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Cobra runs only the closest persistent hook, so chain the root one.
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		_, err := openDB(cmd.Context())
		return err
	},
}

var catalogAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register an average face image and its landmarks",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runCatalogAdd(cmd, DB, addProfile, addImage, addPoints)
	},
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all registered average faces",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runCatalogList(cmd, DB)
	},
}

var catalogRemoveCmd = &cobra.Command{
	Use:   "remove <key>",
	Short: "Remove one average face, e.g. mw13-18",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		removed, err := DB.RemoveAverage(cmd.Context(), strings.ToLower(args[0]))
		if err != nil {
			utils.ShowError("Failed to remove average face", err, nil)
			return err
		}
		if !removed {
			return fmt.Errorf("%w: %q", assets.ErrNotFound, args[0])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Removed %s\n", args[0])
		return nil
	},
}

var catalogResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop the catalog table",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if !resetYes && !confirm(bufio.NewReader(cmd.InOrStdin()), cmd.OutOrStdout(), "⚠️  Are you sure you want to DROP the average-face catalog?") {
			fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), "🗑️  Clearing catalog...")
		if err := DB.Reset(cmd.Context()); err != nil {
			utils.ShowError("Failed to reset catalog", err, nil)
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "✨ Catalog reset complete.")
		return nil
	},
}

func init() {
	f := catalogAddCmd.Flags()
	f.StringVar(&addProfile.Gender, "gender", "", "Gender bucket (m, f)")
	f.StringVar(&addProfile.Ethnicity, "ethnicity", "", "Ethnicity bucket (e.g. w)")
	f.StringVar(&addProfile.AgeGroup, "age-group", "", "Age group (e.g. 13-18, 55)")
	f.StringVar(&addImage, "image", "", "Average face image")
	f.StringVar(&addPoints, "points", "", "JSON landmark list [[x,y],...] for the image")
	catalogAddCmd.MarkFlagRequired("image")
	catalogAddCmd.MarkFlagRequired("points")

	catalogResetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")

	catalogCmd.AddCommand(catalogAddCmd, catalogListCmd, catalogRemoveCmd, catalogResetCmd)
	rootCmd.AddCommand(catalogCmd)
}

func runCatalogAdd(cmd *cobra.Command, db *store.Store, p assets.Profile, imagePath, pointsPath string) error {
	if err := p.Validate(); err != nil {
		utils.ShowError("Configuration Error", err, nil)
		return err
	}
	// Both files must decode now; the paths are stored as given.
	if _, err := assets.LoadImage(imagePath); err != nil {
		utils.ShowError("Unreadable average face image", err, nil)
		return err
	}
	points, err := assets.LoadPoints(pointsPath)
	if err != nil {
		utils.ShowError("Unreadable landmark file", err, nil)
		return err
	}
	imageAbs, _ := filepath.Abs(imagePath)
	pointsAbs, _ := filepath.Abs(pointsPath)

	if err := db.AddAverage(cmd.Context(), p, imageAbs, pointsAbs, len(points)); err != nil {
		utils.ShowError("Failed to register average face", err, nil)
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✅ Registered %s (%d landmarks)\n", p.Key(), len(points))
	return nil
}

func runCatalogList(cmd *cobra.Command, db *store.Store) error {
	avgs, err := db.ListAverages(cmd.Context())
	if err != nil {
		utils.ShowError("Failed to list average faces", err, nil)
		return err
	}
	printAverages(cmd.OutOrStdout(), avgs)
	return nil
}

func printAverages(out io.Writer, avgs []store.Average) {
	if len(avgs) == 0 {
		fmt.Fprintln(out, "No average faces registered.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "KEY\tLANDMARKS\tIMAGE\tADDED")
	fmt.Fprintln(w, "---\t---------\t-----\t-----")
	for _, a := range avgs {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", a.Key, a.Landmarks, a.ImagePath, a.AddedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}

func confirm(r *bufio.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}
