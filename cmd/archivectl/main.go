package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"openarchive/internal/client"
	"openarchive/internal/config"
	"openarchive/internal/domain"
)

const usage = `uso: archivectl <comando> [args]

comandos:
  login                      inicia sesion (pide email y contraseña)
  register                   crea una cuenta de ciudadano
  whoami                     muestra la sesion guardada
  profile                    obtiene el perfil desde el backend
  profile set <campo> <val>  actualiza full_name, institution, department o phone
  open <ruta>                resuelve una vista segun el rol de la sesion
  reset-password <email>     pide un codigo de restablecimiento
  confirm-reset <email>      confirma el codigo y fija una nueva contraseña
  logout                     cierra la sesion
  shell                      modo interactivo con refresh proactivo
`

type app struct {
	gateway *client.Gateway
	router  *client.ViewRouter
	reader  *bufio.Reader
	logger  *zap.Logger
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadClientConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger := zap.NewNop()
	if cfg.Debug {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	dir := cfg.SessionDir
	if dir == "" {
		if dir, err = client.DefaultSessionDir(); err != nil {
			log.Fatal(err)
		}
	}
	storage, err := client.NewFileStorage(dir)
	if err != nil {
		log.Fatal(err)
	}

	cache := client.NewSessionCache(storage, logger)
	cache.Load()
	httpClient := &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second}
	gateway := client.NewGateway(cfg.BackendURL, httpClient, cache, logger)

	a := &app{
		gateway: gateway,
		router:  client.NewViewRouter(cache, nil),
		reader:  bufio.NewReader(os.Stdin),
		logger:  logger,
	}

	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(2)
	}
	if err := a.run(context.Background(), os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "login":
		return a.login(ctx, "")
	case "register":
		return a.register(ctx)
	case "whoami":
		return a.whoami()
	case "profile":
		if len(args) == 3 && args[0] == "set" {
			return a.setProfile(ctx, args[1], args[2])
		}
		return a.profile(ctx)
	case "open":
		if len(args) != 1 {
			return errors.New("open requiere una ruta")
		}
		return a.open(ctx, args[0])
	case "reset-password":
		if len(args) != 1 {
			return errors.New("reset-password requiere un email")
		}
		if err := a.gateway.RequestPasswordReset(ctx, args[0]); err != nil {
			return err
		}
		fmt.Println("Si el email existe, se envio un codigo de restablecimiento.")
		return nil
	case "confirm-reset":
		if len(args) != 1 {
			return errors.New("confirm-reset requiere un email")
		}
		code := a.prompt("Codigo: ")
		password := a.prompt("Nueva contraseña: ")
		if err := a.gateway.ConfirmPasswordReset(ctx, args[0], code, password); err != nil {
			return err
		}
		fmt.Println("Contraseña actualizada. Ya puedes iniciar sesion.")
		return nil
	case "logout":
		a.gateway.Logout(ctx)
		fmt.Println("Sesion cerrada.")
		return nil
	case "shell":
		return a.shell(ctx)
	default:
		fmt.Print(usage)
		return fmt.Errorf("comando desconocido: %s", cmd)
	}
}

func (a *app) prompt(label string) string {
	fmt.Print(label)
	line, _ := a.reader.ReadString('\n')
	return strings.TrimSpace(line)
}

func (a *app) login(ctx context.Context, returnTo string) error {
	email := a.prompt("Email: ")
	password := a.prompt("Contraseña: ")
	s, err := a.gateway.Login(ctx, email, password)
	if err != nil {
		return err
	}
	fmt.Printf("Sesion iniciada como %s (%s)\n", s.User.Email, s.User.Role)
	fmt.Println("Ir a:", a.router.AfterLogin(returnTo))
	return nil
}

func (a *app) register(ctx context.Context) error {
	req := client.RegisterRequest{
		Email:       a.prompt("Email: "),
		Password:    a.prompt("Contraseña: "),
		FullName:    a.prompt("Nombre completo: "),
		Institution: a.prompt("Institucion (opcional): "),
	}
	s, err := a.gateway.Register(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("Cuenta creada para %s (%s)\n", s.User.Email, s.User.Role)
	return nil
}

func (a *app) whoami() error {
	s, ok := a.gateway.Cache().Get()
	if !ok {
		fmt.Println("Sin sesion.")
		return nil
	}
	state := "vigente"
	if client.IsExpired(s, time.Now()) {
		state = "access token vencido (se refrescara en la proxima llamada)"
	}
	fmt.Printf("%s <%s> rol=%s expira=%s [%s]\n",
		s.User.FullName, s.User.Email, s.User.Role,
		time.UnixMilli(s.ExpiresAtMillis()).Format(time.RFC3339), state)
	return nil
}

func (a *app) profile(ctx context.Context) error {
	user, err := a.gateway.GetProfile(ctx)
	if err != nil {
		return err
	}
	printUser(user)
	return nil
}

func (a *app) setProfile(ctx context.Context, field, value string) error {
	var upd domain.ProfileUpdate
	switch field {
	case "full_name":
		upd.FullName = &value
	case "institution":
		upd.Institution = &value
	case "department":
		upd.Department = &value
	case "phone":
		upd.Phone = &value
	default:
		return fmt.Errorf("campo no editable: %s", field)
	}
	user, err := a.gateway.UpdateProfile(ctx, upd)
	if err != nil {
		return err
	}
	printUser(user)
	return nil
}

func (a *app) open(ctx context.Context, path string) error {
	d := a.router.Resolve(path)
	switch d.State {
	case client.StateLoading:
		fmt.Println("Cargando sesion...")
	case client.StateUnauthenticated:
		fmt.Printf("Se requiere iniciar sesion para %s\n", d.ReturnTo)
		if err := a.login(ctx, d.ReturnTo); err != nil {
			return err
		}
	case client.StateUnauthorized:
		fmt.Printf("Acceso denegado a %s; redirigido a %s\n", path, d.Redirect)
	case client.StateRedirect:
		fmt.Printf("Redirigido a %s\n", d.Redirect)
	case client.StateAuthorized:
		fmt.Printf("Mostrando %s\n", d.Render)
	}
	return nil
}

// shell mantiene la sesion viva con el refresh proactivo mientras se usan comandos.
func (a *app) shell(ctx context.Context) error {
	refresher := client.NewRefresher(a.gateway, a.logger)
	refresher.Start()
	defer refresher.Stop()

	fmt.Println("archivectl shell; 'exit' para salir")
	for {
		line := a.prompt("> ")
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}
		fields := strings.Fields(line)
		if fields[0] == "shell" {
			continue
		}
		if err := a.run(ctx, fields[0], fields[1:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
	}
}

func printUser(u domain.User) {
	fmt.Printf("id:          %s\n", u.ID)
	fmt.Printf("email:       %s\n", u.Email)
	fmt.Printf("rol:         %s\n", u.Role)
	fmt.Printf("nombre:      %s\n", u.FullName)
	fmt.Printf("institucion: %s\n", u.Institution)
	fmt.Printf("departamento:%s\n", u.Department)
	fmt.Printf("telefono:    %s\n", u.Phone)
}
