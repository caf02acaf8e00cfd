package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"

	"github.com/flashdaq/flashlog"
	"github.com/flashdaq/flashlog/internal/rundb"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

var githash = "githash not computed"
var buildDate = "build date not computed"

// makeFileExist checks that dir/filename exists, and creates the directory
// and file if it doesn't.
func makeFileExist(dir, filename string) (string, error) {
	// Replace 1 instance of "$HOME" in the path with the actual home directory.
	if strings.Contains(dir, "$HOME") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = strings.Replace(dir, "$HOME", home, 1)
	}

	// Create directory <path>, if needed
	if _, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		err2 := os.MkdirAll(dir, 0775)
		if err2 != nil {
			return "", err2
		}
	}

	// Create an empty file path/filename, if it doesn't exist.
	fullname := path.Join(dir, filename)
	_, err := os.Stat(fullname)
	if os.IsNotExist(err) {
		f, err2 := os.OpenFile(fullname, os.O_WRONLY|os.O_CREATE, 0664)
		if err2 != nil {
			return "", err2
		}
		f.Close()
	}
	return fullname, nil
}

// setupViper sets up the viper configuration manager: says where to find config
// files and the filename and suffix. Sets some defaults.
func setupViper() error {
	viper.SetDefault("Verbose", false)

	HOME, err := os.UserHomeDir()
	if err != nil {
		fmt.Printf("Error finding User Home Dir: %s\n", err)
	}
	dotFlashlog := filepath.Join(HOME, ".flashlog")
	const filename string = "config"
	const suffix string = ".yaml"
	if _, err := makeFileExist(dotFlashlog, filename+suffix); err != nil {
		return err
	}

	viper.SetConfigName(filename)
	viper.AddConfigPath(filepath.FromSlash("/etc/flashlog"))
	viper.AddConfigPath(dotFlashlog)
	viper.AddConfigPath(".")
	err = viper.ReadInConfig() // Find and read the config file
	if err != nil {            // Handle errors reading the config file
		return fmt.Errorf("error reading config file: %s", err)
	}
	return nil
}

func startLogger(pfname string) *log.Logger {
	probFile, err := os.OpenFile(pfname, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		msg := fmt.Sprintf("Could not open log file '%s'", pfname)
		panic(msg)
	}
	probLogger := log.New(probFile, "", log.LstdFlags)
	probLogger.SetOutput(&lumberjack.Logger{
		Filename:   pfname,
		MaxSize:    10,   // megabytes after which new file is created
		MaxBackups: 4,    // number of backups
		MaxAge:     180,  // days
		Compress:   true, // whether to gzip the backups
	})
	return probLogger
}

// newSource builds the acquisition source named on the command line. The
// simulated source synthesizes a 5 Hz sine on A and a 2 Hz triangle on B.
func newSource(name string) (flashlog.AcquisitionSource, error) {
	source := flashlog.NewSimulatedSource()
	switch name {
	case "sim":
		source.Waves["A"] = flashlog.SineWave(2.0, 5.0)
		source.Waves["B"] = flashlog.TriangleWave(1.0, 2.0)
		return source, nil
	case "mains":
		source.Waves["A"] = func(t float64) float64 { return 0.5 * math.Sin(2*math.Pi*50*t) }
		source.Waves["B"] = flashlog.DCLevel(1.0)
		return source, nil
	}
	return nil, fmt.Errorf("acquisition source %q is not recognized (want sim or mains)", name)
}

func main() {
	buildDate = strings.Replace(buildDate, ".", " ", -1) // workaround for Make problems
	flashlog.Build.Date = buildDate
	flashlog.Build.Githash = githash

	printVersion := flag.Bool("version", false, "print version and quit")
	pingDB := flag.Bool("ping", false, "check the run database connection and quit")
	sourceName := flag.String("source", "sim", "acquisition source: sim or mains")
	cpuprofile := flag.String("cpuprofile", "", "write CPU profile to given file")
	memprofile := flag.String("memprofile", "", "write memory profile to given file")
	flag.Parse()

	if *printVersion {
		fmt.Printf("This is FLASHLOG version %s\n", flashlog.Build.Version)
		fmt.Printf("Git commit hash: %s\n", githash)
		fmt.Printf("Build time: %s\n", buildDate)
		fmt.Printf("Built on go version %s\n", runtime.Version())
		fmt.Printf("Running on %d CPUs.\n", runtime.NumCPU())
		os.Exit(0)
	}
	if *pingDB {
		if err := rundb.PingServer(); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	banner := fmt.Sprintf("\nThis is FLASHLOG version %s (git commit %s)\n", flashlog.Build.Version, githash)
	fmt.Print(banner)

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	// Start logging problems to a rotating log file.
	HOME, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	logdir := filepath.Join(HOME, ".flashlog", "logs")
	problemname, err := makeFileExist(logdir, "problems.log")
	if err != nil {
		panic(err)
	}
	flashlog.ProblemLogger = startLogger(problemname)
	fmt.Printf("Logging problems to %s\n\n", problemname)

	// Find config file, creating it if needed, and read it.
	if err := setupViper(); err != nil {
		panic(err)
	}

	source, err := newSource(*sourceName)
	if err != nil {
		log.Fatal(err)
	}

	session := flashlog.NewSession(source, *sourceName)

	abortDB := make(chan struct{})
	defer close(abortDB)
	session.SetRunDB(rundb.Start(abortDB))

	framePub, err := flashlog.NewFramePublisher(flashlog.Ports.Frames)
	if err != nil {
		log.Fatal(err)
	}
	defer framePub.Close()
	session.SetFramePublisher(framePub)

	messageChan := make(chan flashlog.ClientUpdate)
	session.SetUpdates(messageChan)
	go flashlog.RunClientUpdater(messageChan, flashlog.Ports.Status)
	flashlog.RunRPCServer(session, messageChan, flashlog.Ports.RPC)
	writeMemoryProfile(memprofile)
}

// writeMemoryProfile writes the memory use profile to the indicated file.
// If `memprofile` points to an empty string, do not write.
func writeMemoryProfile(memprofile *string) {
	if *memprofile == "" {
		return
	}

	f, err := os.Create(*memprofile)
	if err != nil {
		log.Fatal("could not create memory profile: ", err)
	}
	defer f.Close()
	runtime.GC() // get up-to-date statistics
	if err := pprof.WriteHeapProfile(f); err != nil {
		log.Fatal("could not write memory profile: ", err)
	}
}
