package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cartas/configs"
	"cartas/eventbus"
	"cartas/latency"
	"cartas/network/coordinator"
	"cartas/network/mesh"
	"cartas/network/participant"
	"cartas/storage"

	"golang.org/x/sync/errgroup"
)

var (
	nome       string
	porta      int
	servidores string
	armazem    string
	redisHost  string
	redisPort  int
	pgURL      string
	journalDir string
	semJournal bool
	arquivo    string
	debug      bool
)

func init() {
	flag.StringVar(&nome, "nome", "", "nome deste servidor na malha")
	flag.IntVar(&porta, "porta", 0, "porta HTTP e UDP do servidor")
	flag.StringVar(&servidores, "servidores", "", "lista de URLs dos servidores, separada por virgula")
	flag.StringVar(&armazem, "armazem", "", "backend do coordination store (redis, sql ou memoria)")
	flag.StringVar(&redisHost, "redis_host", "", "host do redis")
	flag.IntVar(&redisPort, "redis_port", 0, "porta do redis")
	flag.StringVar(&pgURL, "postgres_url", "", "url do postgres quando armazem=sql")
	flag.StringVar(&journalDir, "journal", "", "diretorio do journal de debitos")
	flag.BoolVar(&semJournal, "sem_journal", false, "desliga o journal de debitos")
	flag.StringVar(&arquivo, "config", "", "arquivo .properties de configuracao")
	flag.BoolVar(&debug, "debug", false, "habilita log de depuracao")
}

func carregarConfigs() {
	if arquivo != "" {
		configs.CheckError(configs.LoadProperties(arquivo))
	} else {
		configs.LoadEnv()
	}
	if nome != "" {
		configs.NomeServidor = nome
	}
	if porta != 0 {
		configs.PortaServidor = porta
	}
	if servidores != "" {
		configs.ServidoresJogo = configs.SplitServidores(servidores)
	}
	if armazem != "" {
		configs.Armazenamento = armazem
	}
	if redisHost != "" {
		configs.RedisHost = redisHost
	}
	if redisPort != 0 {
		configs.RedisPort = redisPort
	}
	if pgURL != "" {
		configs.PostgresURL = pgURL
	}
	if journalDir != "" {
		configs.JournalDir = journalDir
	}
	if semJournal {
		configs.UseJournal = false
	}
	if debug {
		configs.EnableDebug()
	}
}

func main() {
	flag.Parse()
	carregarConfigs()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cs, err := storage.NewStore(ctx)
	if err != nil {
		configs.Logger().Fatalf("coordination store inacessivel: %v", err)
	}
	defer cs.Close()
	if err := cs.Bootstrap(ctx); err != nil {
		configs.Logger().Fatalf("bootstrap do estoque: %v", err)
	}

	var journal *coordinator.Journal
	if configs.UseJournal {
		journal, err = coordinator.OpenJournal(configs.JournalDir)
		if err != nil {
			configs.Logger().Fatalf("abrindo journal: %v", err)
		}
		defer journal.Close()
	}

	urlLocal := configs.URLLocal()
	part := participant.NewManager(cs, urlLocal)
	coord := coordinator.NewManager(cs, part, journal, configs.ServidoresJogo)
	// Compensate debits a previous run journaled but never settled,
	// before any client can open a pack.
	if err := coord.RecoverJournal(ctx); err != nil {
		configs.Logger().Fatalf("compensando debitos pendentes: %v", err)
	}

	bus := eventbus.New(cs)
	server := mesh.New(cs, coord, part, bus)
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", configs.PortaServidor),
		Handler: server.Handler(),
	}
	eco, err := latency.NewEco(configs.PortaServidor)
	if err != nil {
		configs.Logger().Fatalf("sonda udp: %v", err)
	}

	// Mirror mesh-wide events into the local log.
	cancelOuvir, err := bus.Ouvir(ctx, configs.CanalEventosGerais,
		func(canal string, evento map[string]interface{}) {
			configs.LPrintf("evento %v em %s", evento["tipo"], canal)
		})
	if err != nil {
		configs.Warn(false, "sem escuta de eventos gerais: "+err.Error())
	} else {
		defer cancelOuvir()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		configs.LPrintf("%s servindo em %s", configs.NomeServidor, urlLocal)
		if err := httpSrv.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return eco.Run(ctx)
	})
	g.Go(func() error {
		part.RunSweeper(ctx)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		eco.Close()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		configs.Logger().Fatalf("servidor encerrou: %v", err)
	}
	configs.LPrintf("%s encerrado", configs.NomeServidor)
}
